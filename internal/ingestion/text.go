// Package ingestion turns stored document bytes into clean text ready for analysis.
package ingestion

import (
	"strings"
	"unicode"
)

// CleanText normalizes line endings and whitespace. Headings lose their indentation,
// other lines keep it so nested bullet lists survive, and runs of blank lines collapse
// to a single paragraph break. Control characters left behind by extractors are dropped.
func CleanText(content string) string {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(content)

	var out []string
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = normalizeLine(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func normalizeLine(line string) string {
	body := strings.TrimLeftFunc(line, unicode.IsSpace)
	indent := len(line) - len(body)

	var sb strings.Builder
	space := false
	for _, r := range body {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	if sb.Len() == 0 {
		return ""
	}
	text := sb.String()
	if strings.HasPrefix(text, "#") {
		return text
	}
	return strings.Repeat(" ", indentWidth(line[:indent])) + text
}

// indentWidth counts a tab as four columns.
func indentWidth(prefix string) int {
	n := 0
	for _, r := range prefix {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}
