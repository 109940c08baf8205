package brain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// BuildScoringConfig derives the scoring configuration from the criteria section.
// Weights are normalized to sum to 1; when no criterion carries a positive weight all are weighted equally.
// It returns nil when there are no named criteria.
func BuildScoringConfig(criteria []types.Criterion) *types.ScoringConfig {
	var named []types.Criterion
	for _, c := range criteria {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.Weight < 0 || math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
			c.Weight = 0
		}
		named = append(named, c)
	}
	if len(named) == 0 {
		return nil
	}

	total := 0.0
	for _, c := range named {
		total += c.Weight
	}
	for i := range named {
		if total == 0 {
			named[i].Weight = 1 / float64(len(named))
		} else {
			named[i].Weight /= total
		}
	}
	return &types.ScoringConfig{Criteria: named}
}

// ContentHash is the hex BLAKE2b-256 digest of the canonical JSON of the sections.
// Map keys are serialized in sorted order, so equal sections hash equally.
func ContentHash(sections map[string]types.DocumentAnalysis) (string, error) {
	canonical := make(map[string]types.DocumentAnalysis, len(sections))
	for k, v := range sections {
		v.RawResponse = ""
		canonical[k] = v
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sections: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
