// Package chunking splits extracted document text into pieces that fit the collaborator's context window.
package chunking

import "unicode/utf8"

// MaxChunkChars is the default chunk size, counted in Unicode code points.
const MaxChunkChars = 80000

// Split partitions text into contiguous, non-overlapping chunks of at most maxChars code points each.
// Concatenating the chunks in order reproduces text exactly; a multi-byte character is never split.
// Empty text yields no chunks. A non-positive maxChars falls back to MaxChunkChars.
func Split(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = MaxChunkChars
	}

	chunks := make([]string, 0, Count(text, maxChars))
	start, runes := 0, 0
	for i := range text {
		if runes == maxChars {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	chunks = append(chunks, text[start:])
	return chunks
}

// Count returns the number of chunks Split would produce: ceil(L / maxChars).
func Count(text string, maxChars int) int {
	if maxChars <= 0 {
		maxChars = MaxChunkChars
	}
	n := utf8.RuneCountInString(text)
	return (n + maxChars - 1) / maxChars
}
