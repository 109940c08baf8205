package assessment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// DefaultTemplate is the layout used when no template is configured.
const DefaultTemplate = `Overall score: {{overall_score}}

Summary:
{{summary}}

Criteria:
{{criteria_table}}

Strengths:
{{strengths}}

Weaknesses:
{{weaknesses}}

Recommendations:
{{recommendations}}
`

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// MapTemplate fills tmpl's placeholders from the scoring result. Unknown placeholders render
// empty and a nil tmpl renders DefaultTemplate.
//
// Supported placeholders: overall_score, summary, strengths, weaknesses, recommendations,
// criteria_table, criterion.<name>.score and criterion.<name>.feedback.
func MapTemplate(result *types.ScoringResult, tmpl *string) string {
	layout := DefaultTemplate
	if tmpl != nil {
		layout = *tmpl
	}
	if result == nil {
		result = &types.ScoringResult{}
	}
	return placeholderPattern.ReplaceAllStringFunc(layout, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return resolve(result, name)
	})
}

// BrainTemplate builds a template from the placeholders declared by the brain's template section.
// It returns nil when there are none.
func BrainTemplate(brain *types.Brain) *string {
	if brain == nil {
		return nil
	}
	section, ok := brain.Sections[string(types.DocumentTypeTemplate)]
	if !ok || len(section.Placeholders) == 0 {
		return nil
	}
	var b strings.Builder
	for _, p := range section.Placeholders {
		p = strings.Trim(strings.TrimSpace(p), "{} ")
		if p == "" {
			continue
		}
		b.WriteString(p + ": {{" + p + "}}\n")
	}
	if b.Len() == 0 {
		return nil
	}
	out := b.String()
	return &out
}

func resolve(result *types.ScoringResult, name string) string {
	switch name {
	case "overall_score":
		return formatScore(result.OverallScore)
	case "summary":
		return result.Feedback.Summary
	case "strengths":
		return bulletList(result.Feedback.Strengths)
	case "weaknesses":
		return bulletList(result.Feedback.Weaknesses)
	case "recommendations":
		return bulletList(result.Feedback.Recommendations)
	case "criteria_table":
		return criteriaTable(result.CriterionScores)
	}

	if rest, ok := strings.CutPrefix(name, "criterion."); ok {
		dot := strings.LastIndex(rest, ".")
		if dot <= 0 {
			return ""
		}
		criterion, field := rest[:dot], rest[dot+1:]
		for _, cs := range result.CriterionScores {
			if analysis.NormalizeKey(cs.Name) != analysis.NormalizeKey(criterion) {
				continue
			}
			switch field {
			case "score":
				return formatScore(cs.Score)
			case "feedback":
				return cs.Feedback
			}
			return ""
		}
	}
	return ""
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func criteriaTable(scores []types.CriterionScore) string {
	var b strings.Builder
	b.WriteString("| Criterion | Score | Weight | Feedback |\n")
	b.WriteString("|---|---|---|---|")
	for _, cs := range scores {
		b.WriteString("\n| " + cs.Name + " | " + formatScore(cs.Score) + " | " +
			strconv.FormatFloat(cs.Weight, 'f', 2, 64) + " | " + cs.Feedback + " |")
	}
	return b.String()
}
