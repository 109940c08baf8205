// Package assessment scores a submission against an assembled brain and maps the result onto an output template.
//
// Scoring calls the collaborator. Template mapping is a pure function of the scoring result and the template,
// so the same inputs always render the same bytes.
package assessment

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/llm"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/prompts"
	"github.com/jonathan/knowledge-brain/internal/schemas"
	"github.com/jonathan/knowledge-brain/internal/types"
)

const promptFile = "assessment.json"

// NotAssessed is the feedback given to criteria the collaborator did not score.
const NotAssessed = "not assessed"

// Config tunes the engine.
type Config struct {
	Tier  llm.ModelTier
	Retry llm.RetryPolicy
}

// DefaultConfig returns the production engine configuration.
func DefaultConfig() Config {
	return Config{Tier: llm.TierAdvanced, Retry: llm.DefaultRetryPolicy()}
}

// Engine assesses submissions. It never modifies the brain it reads.
type Engine struct {
	client llm.Client
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(client llm.Client, cfg Config, log *logger.Logger) *Engine {
	if cfg.Tier == "" {
		cfg.Tier = llm.TierAdvanced
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{client: client, cfg: cfg, log: log.With("component", "assessment"), now: time.Now}
}

type scoringReply struct {
	CriterionScores []struct {
		Name     string  `json:"name"`
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	} `json:"criterion_scores"`
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// Score asks the collaborator to score text against the brain's criteria. Scores are clamped to
// 0-100, criteria missing from the reply score 0, and the overall score is the weighted average.
func (e *Engine) Score(ctx context.Context, brain *types.Brain, text string) (*types.ScoringResult, error) {
	if brain == nil || brain.ScoringConfig == nil || len(brain.ScoringConfig.Criteria) == 0 {
		var subjectID uuid.UUID
		if brain != nil {
			subjectID = brain.SubjectID
		}
		return nil, &AssessmentError{SubjectID: subjectID, Message: "brain has no scoring configuration"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &AssessmentError{SubjectID: brain.SubjectID, Message: "submission has no extractable text"}
	}

	log := e.log.With("subject_id", brain.SubjectID, "brain_version", brain.Version)
	content, err := buildScoringPrompt(brain, text)
	if err != nil {
		return nil, err
	}
	req := llm.Request{
		SystemInstructions: prompts.MustGet(promptFile, "system"),
		Content:            content,
		Tier:               e.cfg.Tier,
	}
	raw, err := llm.CallWithRetry(ctx, e.cfg.Retry, func(callCtx context.Context) (string, error) {
		return e.client.GenerateJSON(callCtx, req)
	}, func(err error, wait time.Duration) {
		metrics.IncCollaboratorCall("retry")
		log.Warn("scoring call failed, retrying", "wait", wait, "error", err)
	})
	if err != nil {
		metrics.IncCollaboratorCall("failed")
		return nil, &AssessmentError{SubjectID: brain.SubjectID, Message: "scoring call failed", Cause: err}
	}
	metrics.IncCollaboratorCall("succeeded")

	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.ValidateScoring(cleaned); err != nil {
		return nil, &AssessmentError{SubjectID: brain.SubjectID, Message: "malformed scoring reply", Cause: err}
	}
	var reply scoringReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, &AssessmentError{SubjectID: brain.SubjectID, Message: "malformed scoring reply", Cause: err}
	}

	result := combine(brain.ScoringConfig, &reply)
	log.Info("submission scored", "overall", result.OverallScore, "criteria", len(result.CriterionScores))
	return result, nil
}

// Assess scores text and renders the result. A nil tmpl uses the brain's template section
// when it declares placeholders, and the default layout otherwise.
func (e *Engine) Assess(ctx context.Context, brain *types.Brain, text string, tmpl *string) (*types.AssessmentResult, error) {
	scoring, err := e.Score(ctx, brain, text)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		tmpl = BrainTemplate(brain)
	}
	return &types.AssessmentResult{
		ID:             uuid.New(),
		SubjectID:      brain.SubjectID,
		BrainVersion:   brain.Version,
		Scoring:        *scoring,
		TemplateOutput: MapTemplate(scoring, tmpl),
		CreatedAt:      e.now().UTC(),
	}, nil
}

// combine aligns the reply with the configured criteria, in configuration order.
func combine(cfg *types.ScoringConfig, reply *scoringReply) *types.ScoringResult {
	byName := make(map[string]int, len(reply.CriterionScores))
	for i, cs := range reply.CriterionScores {
		key := analysis.NormalizeKey(cs.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}

	result := &types.ScoringResult{
		CriterionScores: make([]types.CriterionScore, 0, len(cfg.Criteria)),
		Feedback: types.Feedback{
			Summary:         reply.Summary,
			Strengths:       nonNil(reply.Strengths),
			Weaknesses:      nonNil(reply.Weaknesses),
			Recommendations: nonNil(reply.Recommendations),
		},
	}

	var weighted, totalWeight float64
	for _, c := range cfg.Criteria {
		score := types.CriterionScore{Name: c.Name, Weight: c.Weight, Feedback: NotAssessed}
		if i, ok := byName[analysis.NormalizeKey(c.Name)]; ok {
			score.Score = clamp(reply.CriterionScores[i].Score)
			score.Feedback = reply.CriterionScores[i].Feedback
		}
		result.CriterionScores = append(result.CriterionScores, score)
		weighted += score.Score * c.Weight
		totalWeight += c.Weight
	}
	if totalWeight > 0 {
		result.OverallScore = round2(weighted / totalWeight)
	}
	return result
}

func buildScoringPrompt(brain *types.Brain, text string) (string, error) {
	var criteria strings.Builder
	for _, c := range brain.ScoringConfig.Criteria {
		criteria.WriteString("- " + c.Name + " | " + strconv.FormatFloat(c.Weight, 'f', 4, 64))
		if c.Description != "" {
			criteria.WriteString(" | " + c.Description)
		}
		criteria.WriteString("\n")
	}

	rules := brainRules(brain)
	rulesStr := "None specified"
	if len(rules) > 0 {
		rulesStr = "- " + strings.Join(rules, "\n- ")
	}

	return prompts.Render(promptFile, "score", map[string]string{
		"Criteria":   strings.TrimRight(criteria.String(), "\n"),
		"Rules":      rulesStr,
		"Submission": text,
	})
}

// brainRules collects the rules of every section in section-name order.
func brainRules(brain *types.Brain) []string {
	names := make([]string, 0, len(brain.Sections))
	for name := range brain.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]types.DocumentAnalysis, 0, len(names))
	for _, name := range names {
		parts = append(parts, brain.Sections[name])
	}
	return analysis.Merge(parts...).Rules
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
