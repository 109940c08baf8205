package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyText(t *testing.T) {
	assert.Empty(t, Split("", 10))
	assert.Equal(t, 0, Count("", 10))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("hello", 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestSplit_ExactMultiple(t *testing.T) {
	chunks := Split("abcdef", 3)
	assert.Equal(t, []string{"abc", "def"}, chunks)
}

func TestSplit_Remainder(t *testing.T) {
	chunks := Split("abcdefg", 3)
	assert.Equal(t, []string{"abc", "def", "g"}, chunks)
}

func TestSplit_LargeDocumentThreeChunks(t *testing.T) {
	text := strings.Repeat("x", 200000)

	chunks := Split(text, MaxChunkChars)

	require.Len(t, chunks, 3)
	assert.Equal(t, 80000, len(chunks[0]))
	assert.Equal(t, 80000, len(chunks[1]))
	assert.Equal(t, 40000, len(chunks[2]))
	assert.Equal(t, 3, Count(text, MaxChunkChars))
}

func TestSplit_MultiByteCharactersStayWhole(t *testing.T) {
	text := strings.Repeat("é日本", 7)

	chunks := Split(text, 4)

	assert.Equal(t, Count(text, 4), len(chunks))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplit_NonPositiveMaxUsesDefault(t *testing.T) {
	chunks := Split("abc", 0)
	assert.Equal(t, []string{"abc"}, chunks)
}
