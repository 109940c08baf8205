package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// Store persists jobs. Every mutation is a single atomic read-modify-write scoped to the
// fields it changes, so concurrent workers never lose each other's updates.
type Store interface {
	// Create inserts a PENDING job. DOCUMENT_ANALYSIS jobs need a positive unit count;
	// RAG_PROCESSING jobs default to one unit and are limited to one non-terminal job per subject.
	Create(ctx context.Context, subjectID uuid.UUID, kind types.JobKind, totalUnits int) (*types.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Job, error)
	// ListForSubject returns the subject's jobs, newest first.
	ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*types.Job, error)
	// Latest returns the newest job of a kind for the subject.
	Latest(ctx context.Context, subjectID uuid.UUID, kind types.JobKind) (*types.Job, error)

	// MarkProcessing moves a PENDING job to PROCESSING. Already PROCESSING jobs are returned unchanged.
	MarkProcessing(ctx context.Context, id uuid.UUID) (*types.Job, error)
	// RecordUnitProcessed records a unit once. The bool is false when the unit was already
	// recorded or the job is terminal. Recording the last unit completes the job.
	RecordUnitProcessed(ctx context.Context, id uuid.UUID, outcome types.UnitOutcome) (*types.Job, bool, error)
	RecordChunkProgress(ctx context.Context, id uuid.UUID, documentID string, done, total int) error
	RecordTextExtraction(ctx context.Context, id uuid.UUID, documentID string, meta types.TextExtractionMetadata) error
	RecordAssembly(ctx context.Context, id uuid.UUID, brainVersion int, sections, missing []string) error
	// MarkCompleted completes a PROCESSING job whose units are all processed. It is for manual
	// or administrative completion; workers complete jobs through RecordUnitProcessed.
	MarkCompleted(ctx context.Context, id uuid.UUID) (*types.Job, error)
	// MarkFailed fails a PENDING or PROCESSING job with a reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*types.Job, error)
	// Retry resets a FAILED job to PENDING with progress and completed units cleared.
	Retry(ctx context.Context, id uuid.UUID) (*types.Job, error)

	ListStale(ctx context.Context, q StaleQuery) ([]*types.Job, error)
	// ClaimRetrigger stamps a re-trigger and bumps the stall attempt counter if the
	// cool-down has elapsed. Only the caller that gets true may re-trigger.
	ClaimRetrigger(ctx context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (*types.Job, bool, error)
}
