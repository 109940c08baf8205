package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	prompt, err := Get("analysis.json", "system")
	require.NoError(t, err)
	assert.Contains(t, prompt, "JSON object")

	_, err = Get("nonexistent.json", "system")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt file nonexistent.json not found")

	_, err = Get("analysis.json", "nonexistent-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustGet("nonexistent.json", "system")
	})
}

func TestEveryDocumentTypeHasInstructions(t *testing.T) {
	for _, key := range []string{"application_form", "criteria", "policy", "template", "supporting"} {
		prompt, err := Get("analysis.json", key)
		require.NoError(t, err, key)
		assert.NotEmpty(t, prompt, key)
	}
}

func TestFormat(t *testing.T) {
	out := Format("Chunk {{.ChunkNumber}} of {{.ChunkCount}}, {{.Unknown}}", map[string]string{
		"ChunkNumber": "2",
		"ChunkCount":  "3",
	})
	assert.Equal(t, "Chunk 2 of 3, {{.Unknown}}", out)
}

func TestFormat_ValuesAreNotReexpanded(t *testing.T) {
	out := Format("{{.Text}} / {{.Rules}}", map[string]string{
		"Text":  "the form says {{.Rules}}",
		"Rules": "R1",
	})
	assert.Equal(t, "the form says {{.Rules}} / R1", out)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Placeholders("{{.A}} {{.B}} {{.A}} {{ .C }}"))
	assert.Empty(t, Placeholders("plain"))
}

func TestRender(t *testing.T) {
	out, err := Render("analysis.json", "chunk", map[string]string{
		"DocumentType":     "policy",
		"ChunkNumber":      "1",
		"ChunkCount":       "1",
		"TypeInstructions": "extract rules",
		"Text":             "All applicants must be registered.",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Document type: policy")
	assert.Contains(t, out, "All applicants must be registered.")
	assert.NotContains(t, out, "{{.")
}

func TestRender_MissingValue(t *testing.T) {
	_, err := Render("assessment.json", "score", map[string]string{"Criteria": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rules")
	assert.Contains(t, err.Error(), "Submission")
}
