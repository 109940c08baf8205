package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   \n\t\n", want: ""},
		{name: "collapses inner spaces", input: "Funding    up   to\t£50k", want: "Funding up to £50k"},
		{name: "collapses blank runs", input: "Section 1\n\n\n\n\nSection 2", want: "Section 1\n\nSection 2"},
		{name: "line endings", input: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "heading loses indent", input: "  # Eligibility\n- Registered charity", want: "# Eligibility\n- Registered charity"},
		{name: "nested bullets keep indent", input: "- Costs\n\t- Staff  time", want: "- Costs\n    - Staff time"},
		{name: "drops control characters", input: "\ufeffPage\x0c 1\x00", want: "Page 1"},
		{name: "trims leading and trailing blank lines", input: "\n\n body \n\n", want: " body"},
		{name: "non-breaking space", input: "up\u00a0to", want: "up to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.input))
		})
	}
}
