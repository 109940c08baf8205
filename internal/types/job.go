// Package types provides type definitions for structured data used throughout the knowledge-brain system.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies the pipeline stage a job belongs to.
type JobKind string

// Job kinds
const (
	JobKindDocumentAnalysis JobKind = "DOCUMENT_ANALYSIS"
	JobKindRAGProcessing    JobKind = "RAG_PROCESSING"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindDocumentAnalysis || k == JobKindRAGProcessing
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further work happens for the status without an explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a durable record of a unit of multi-step background work.
type Job struct {
	ID                uuid.UUID     `json:"id"`
	SubjectID         uuid.UUID     `json:"subject_id"`
	Kind              JobKind       `json:"kind"`
	Status            JobStatus     `json:"status"`
	ProgressPercent   int           `json:"progress_percent"`
	TotalUnits        int           `json:"total_units"`
	ProcessedUnits    int           `json:"processed_units"`
	StageMetadata     StageMetadata `json:"stage_metadata"`
	ErrorMessage      *string       `json:"error_message,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
	StallAttempts     int           `json:"stall_attempts"`
	LastRetriggeredAt *time.Time    `json:"last_retriggered_at,omitempty"`
}

// CompletedUnits returns the idempotency markers recorded for the job, regardless of kind.
func (j *Job) CompletedUnits() map[string]UnitOutcome {
	switch {
	case j.StageMetadata.DocumentAnalysis != nil:
		return j.StageMetadata.DocumentAnalysis.CompletedUnits
	case j.StageMetadata.RAGProcessing != nil:
		return j.StageMetadata.RAGProcessing.CompletedUnits
	}
	return nil
}

// HasCompletedUnit reports whether unitID was already recorded.
func (j *Job) HasCompletedUnit(unitID string) bool {
	_, ok := j.CompletedUnits()[unitID]
	return ok
}

// PartialSuccessNote summarizes skipped units, or returns "" when every unit succeeded.
func (j *Job) PartialSuccessNote() string {
	units := j.CompletedUnits()
	skipped := 0
	for _, u := range units {
		if u.Status == UnitStatusSkipped {
			skipped++
		}
	}
	if skipped == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d units succeeded; %d skipped", len(units)-skipped, j.TotalUnits, skipped)
}

// UnitStatus records how a unit of work ended.
type UnitStatus string

// Unit statuses
const (
	UnitStatusSucceeded UnitStatus = "succeeded"
	UnitStatusSkipped   UnitStatus = "skipped"
)

// UnitOutcome is the per-unit idempotency marker stored in stage metadata.
type UnitOutcome struct {
	UnitID     string     `json:"unit_id"`
	Status     UnitStatus `json:"status"`
	Note       string     `json:"note,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// StageMetadata is a tagged union: exactly one of the kind-specific payloads is set, selected by Kind.
type StageMetadata struct {
	Kind             JobKind                   `json:"kind"`
	DocumentAnalysis *DocumentAnalysisMetadata `json:"document_analysis,omitempty"`
	RAGProcessing    *RAGProcessingMetadata    `json:"rag_processing,omitempty"`
}

// NewStageMetadata returns empty metadata for the given job kind.
func NewStageMetadata(kind JobKind) StageMetadata {
	md := StageMetadata{Kind: kind}
	switch kind {
	case JobKindDocumentAnalysis:
		md.DocumentAnalysis = &DocumentAnalysisMetadata{
			CompletedUnits: map[string]UnitOutcome{},
			ChunkProgress:  map[string]ChunkProgress{},
			TextExtraction: map[string]TextExtractionMetadata{},
		}
	case JobKindRAGProcessing:
		md.RAGProcessing = &RAGProcessingMetadata{
			CompletedUnits: map[string]UnitOutcome{},
		}
	}
	return md
}

// Clone returns a deep copy so callers can mutate without touching a stored job.
func (m StageMetadata) Clone() StageMetadata {
	out := StageMetadata{Kind: m.Kind}
	if d := m.DocumentAnalysis; d != nil {
		c := &DocumentAnalysisMetadata{
			CompletedUnits:          make(map[string]UnitOutcome, len(d.CompletedUnits)),
			ChunkProgress:           make(map[string]ChunkProgress, len(d.ChunkProgress)),
			TextExtraction:          make(map[string]TextExtractionMetadata, len(d.TextExtraction)),
			LastProcessedDocumentID: d.LastProcessedDocumentID,
		}
		for k, v := range d.CompletedUnits {
			c.CompletedUnits[k] = v
		}
		for k, v := range d.ChunkProgress {
			c.ChunkProgress[k] = v
		}
		for k, v := range d.TextExtraction {
			c.TextExtraction[k] = v
		}
		out.DocumentAnalysis = c
	}
	if r := m.RAGProcessing; r != nil {
		c := &RAGProcessingMetadata{
			CompletedUnits:  make(map[string]UnitOutcome, len(r.CompletedUnits)),
			BrainVersion:    r.BrainVersion,
			Sections:        append([]string(nil), r.Sections...),
			MissingSections: append([]string(nil), r.MissingSections...),
		}
		for k, v := range r.CompletedUnits {
			c.CompletedUnits[k] = v
		}
		out.RAGProcessing = c
	}
	return out
}

// DocumentAnalysisMetadata tracks per-document progress of a DOCUMENT_ANALYSIS job.
type DocumentAnalysisMetadata struct {
	CompletedUnits          map[string]UnitOutcome            `json:"completed_units"`
	ChunkProgress           map[string]ChunkProgress          `json:"chunk_progress,omitempty"`
	TextExtraction          map[string]TextExtractionMetadata `json:"text_extraction,omitempty"`
	LastProcessedDocumentID string                            `json:"last_processed_document_id,omitempty"`
}

// ChunkProgress counts analyzed chunks of one document.
type ChunkProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// TextExtractionStatus is the state of the text extraction subtask for one document.
type TextExtractionStatus string

// Text extraction statuses
const (
	TextExtractionSucceeded TextExtractionStatus = "succeeded"
	TextExtractionFailed    TextExtractionStatus = "failed"
)

// TextExtractionMetadata records how a document's text was obtained.
type TextExtractionMetadata struct {
	Extractor  string               `json:"extractor"`
	Characters int                  `json:"characters"`
	Status     TextExtractionStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// RAGProcessingMetadata tracks brain assembly.
type RAGProcessingMetadata struct {
	CompletedUnits  map[string]UnitOutcome `json:"completed_units"`
	BrainVersion    int                    `json:"brain_version,omitempty"`
	Sections        []string               `json:"sections,omitempty"`
	MissingSections []string               `json:"missing_sections,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StageMetadata = j.StageMetadata.Clone()
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.LastRetriggeredAt = cloneTime(j.LastRetriggeredAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
