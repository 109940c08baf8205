// Package rules extracts numbered policy rules from markdown policy documents.
//
// A rule is written as a bold numbered title followed by dash-prefixed description
// lines and an optional source line:
//
//	**12. Conflict of interest declaration**
//	- Every evaluator must sign a declaration before reviewing bids.
//	- **Source**: Procurement Regulations, Section 3.14
//
// Rules are grouped by "### **Section**" headings, and "## **... REQUIREMENTS**"
// headings set the priority of the rules that follow them.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Priority ranks how binding a rule is.
type Priority string

// Priorities
const (
	PriorityCritical  Priority = "critical"
	PriorityHigh      Priority = "high"
	PriorityImportant Priority = "important"
	PriorityInfo      Priority = "info"
)

// Rule is one numbered policy rule.
type Rule struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Source      string   `json:"source,omitempty"`
	Section     string   `json:"section,omitempty"`
	Priority    Priority `json:"priority"`
}

// String renders the rule as a single line suitable for a brain's rule list.
func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %d. %s", strings.ToUpper(string(r.Priority)), r.Number, r.Title))
	if r.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(r.Description)
	}
	if r.Source != "" {
		sb.WriteString(" (Source: ")
		sb.WriteString(r.Source)
		sb.WriteString(")")
	}
	return sb.String()
}

var (
	ruleTitle     = regexp.MustCompile(`^\*\*(\d+)\.\s+(.+)\*\*$`)
	sectionHeader = regexp.MustCompile(`^###\s+\*\*(.+)\*\*$`)
	sourceLine    = regexp.MustCompile(`^-\s*\*\*Source\*\*:\s*(.*)$`)
)

var priorityHeaders = map[string]Priority{
	"CRITICAL MANDATORY REQUIREMENTS":     PriorityCritical,
	"HIGH PRIORITY REQUIREMENTS":          PriorityHigh,
	"IMPORTANT OPERATIONAL REQUIREMENTS":  PriorityImportant,
	"DOCUMENT PRIORITIZATION METHODOLOGY": PriorityInfo,
}

// TierForNumber is the priority used when no priority heading precedes a rule.
func TierForNumber(n int) Priority {
	switch {
	case n <= 46:
		return PriorityCritical
	case n <= 100:
		return PriorityHigh
	default:
		return PriorityImportant
	}
}

// Parse extracts every numbered rule from markdown text, in document order.
func Parse(text string) []Rule {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		out      []Rule
		section  string
		priority Priority
	)
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if strings.HasPrefix(line, "## ") {
			heading := strings.Trim(strings.TrimPrefix(line, "## "), "* ")
			if p, ok := priorityHeaders[strings.ToUpper(heading)]; ok {
				priority = p
			}
			continue
		}
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			section = strings.TrimSpace(m[1])
			continue
		}

		m := ruleTitle.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		rule := Rule{Number: number, Title: strings.TrimSpace(m[2]), Section: section, Priority: priority}
		if rule.Priority == "" {
			rule.Priority = TierForNumber(number)
		}

		var desc []string
		for i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if !strings.HasPrefix(next, "-") {
				break
			}
			i++
			if sm := sourceLine.FindStringSubmatch(next); sm != nil {
				rule.Source = strings.TrimSpace(sm[1])
				break
			}
			desc = append(desc, strings.TrimSpace(strings.TrimPrefix(next, "-")))
		}
		rule.Description = strings.Join(desc, " ")
		out = append(out, rule)
	}
	return out
}

// Strings renders rules with Rule.String, skipping informational ones.
func Strings(rs []Rule) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.Priority == PriorityInfo {
			continue
		}
		out = append(out, r.String())
	}
	return out
}
