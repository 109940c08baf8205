package analysis

import (
	"strings"

	"github.com/jonathan/knowledge-brain/internal/types"
)

const rawResponseSeparator = "\n---\n"

// Merge combines partial analyses in order. List fields are unioned by normalized
// identity, keeping the first occurrence and encounter order; criteria are keyed by
// name. Scalars take the first non-empty value. Merge is associative, so chunk
// results can be folded in any grouping.
func Merge(parts ...types.DocumentAnalysis) types.DocumentAnalysis {
	out := types.EmptyAnalysis()
	var raws []string

	for _, p := range parts {
		if out.Title == "" {
			out.Title = strings.TrimSpace(p.Title)
		}
		if out.Summary == "" {
			out.Summary = strings.TrimSpace(p.Summary)
		}
		out.Rules = unionStrings(out.Rules, p.Rules)
		out.Requirements = unionStrings(out.Requirements, p.Requirements)
		out.Keywords = unionStrings(out.Keywords, p.Keywords)
		out.Placeholders = unionStrings(out.Placeholders, p.Placeholders)
		out.Criteria = unionCriteria(out.Criteria, p.Criteria)

		for k, v := range p.Metadata {
			if out.Metadata == nil {
				out.Metadata = map[string]string{}
			}
			if _, ok := out.Metadata[k]; !ok {
				out.Metadata[k] = v
			}
		}
		if p.RawResponse != "" {
			raws = append(raws, p.RawResponse)
		}
		out.Degraded = out.Degraded || p.Degraded
		out.ChunkCount += p.ChunkCount
	}
	out.RawResponse = strings.Join(raws, rawResponseSeparator)
	return out
}

// NormalizeKey is the identity used to deduplicate list entries.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func unionStrings(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, s := range dst {
		seen[NormalizeKey(s)] = struct{}{}
	}
	for _, s := range src {
		key := NormalizeKey(s)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, strings.TrimSpace(s))
	}
	return dst
}

func unionCriteria(dst, src []types.Criterion) []types.Criterion {
	index := make(map[string]int, len(dst)+len(src))
	for i, c := range dst {
		index[NormalizeKey(c.Name)] = i
	}
	for _, c := range src {
		key := NormalizeKey(c.Name)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if dst[i].Description == "" {
				dst[i].Description = strings.TrimSpace(c.Description)
			}
			if dst[i].Weight == 0 {
				dst[i].Weight = c.Weight
			}
			continue
		}
		index[key] = len(dst)
		dst = append(dst, types.Criterion{
			Name:        strings.TrimSpace(c.Name),
			Description: strings.TrimSpace(c.Description),
			Weight:      c.Weight,
		})
	}
	return dst
}
