package types

import (
	"time"

	"github.com/google/uuid"
)

// Brain is an immutable, versioned knowledge artifact assembled from a subject's analyzed documents.
type Brain struct {
	SubjectID         uuid.UUID                   `json:"subject_id"`
	Version           int                         `json:"version"`
	AssembledAt       time.Time                   `json:"assembled_at"`
	Sections          map[string]DocumentAnalysis `json:"sections"`
	ScoringConfig     *ScoringConfig              `json:"scoring_config,omitempty"`
	ContentHash       string                      `json:"content_hash"`
	SourceDocumentIDs []uuid.UUID                 `json:"source_document_ids"`
}

// ScoringConfig holds the weighted criteria a submission is scored against.
type ScoringConfig struct {
	Criteria []Criterion `json:"criteria"`
}

// CriterionScore is the score awarded for one criterion.
type CriterionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Feedback string  `json:"feedback,omitempty"`
}

// Feedback is the narrative part of an assessment.
type Feedback struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// ScoringResult is the output of the scoring phase.
type ScoringResult struct {
	CriterionScores []CriterionScore `json:"criterion_scores"`
	OverallScore    float64          `json:"overall_score"`
	Feedback        Feedback         `json:"feedback"`
}

// AssessmentResult combines the scoring result and its template rendering.
type AssessmentResult struct {
	ID             uuid.UUID     `json:"id"`
	SubjectID      uuid.UUID     `json:"subject_id"`
	BrainVersion   int           `json:"brain_version"`
	Scoring        ScoringResult `json:"scoring"`
	TemplateOutput string        `json:"template_output"`
	CreatedAt      time.Time     `json:"created_at"`
}
