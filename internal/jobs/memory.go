package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// MemoryStore is an in-process Store used by tests and single-node development runs.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*types.Job
	order []uuid.UUID
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*types.Job), Now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Put stores a job as-is. Tests use it to seed jobs in arbitrary states.
func (s *MemoryStore) Put(job *types.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
}

func (s *MemoryStore) Create(_ context.Context, subjectID uuid.UUID, kind types.JobKind, totalUnits int) (*types.Job, error) {
	units, err := ValidateCreate(kind, totalUnits)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == types.JobKindRAGProcessing {
		for _, j := range s.jobs {
			if j.SubjectID == subjectID && j.Kind == kind && !j.Status.IsTerminal() {
				return nil, &ConflictError{SubjectID: subjectID, Kind: kind}
			}
		}
	}

	now := s.now()
	job := &types.Job{
		ID:            uuid.New(),
		SubjectID:     subjectID,
		Kind:          kind,
		Status:        types.JobStatusPending,
		TotalUnits:    units,
		StageMetadata: types.NewStageMetadata(kind),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	metrics.IncJobTransition(string(kind), string(types.JobStatusPending))
	return job.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, &NotFoundError{JobID: id}
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListForSubject(_ context.Context, subjectID uuid.UUID) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Job
	for i := len(s.order) - 1; i >= 0; i-- {
		if j := s.jobs[s.order[i]]; j.SubjectID == subjectID {
			out = append(out, j.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, subjectID uuid.UUID, kind types.JobKind) (*types.Job, error) {
	all, err := s.ListForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, j := range all {
		if j.Kind == kind {
			return j, nil
		}
	}
	return nil, &NotFoundError{SubjectID: subjectID, Kind: kind}
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID) (*types.Job, error) {
	return s.update(id, func(job *types.Job, now time.Time) error {
		switch job.Status {
		case types.JobStatusProcessing:
			return nil
		case types.JobStatusPending:
			startProcessing(job, now)
			return nil
		}
		return &StateError{JobID: id, From: job.Status, Action: "start"}
	})
}

func (s *MemoryStore) RecordUnitProcessed(_ context.Context, id uuid.UUID, outcome types.UnitOutcome) (*types.Job, bool, error) {
	recorded := false
	job, err := s.update(id, func(job *types.Job, now time.Time) error {
		if job.Status.IsTerminal() || job.HasCompletedUnit(outcome.UnitID) || job.ProcessedUnits >= job.TotalUnits {
			return nil
		}
		if job.Status == types.JobStatusPending {
			startProcessing(job, now)
		}
		if outcome.RecordedAt.IsZero() {
			outcome.RecordedAt = now
		}
		units := job.CompletedUnits()
		if units == nil {
			job.StageMetadata = types.NewStageMetadata(job.Kind)
			units = job.CompletedUnits()
		}
		units[outcome.UnitID] = outcome
		if md := job.StageMetadata.DocumentAnalysis; md != nil {
			md.LastProcessedDocumentID = outcome.UnitID
		}

		job.ProcessedUnits++
		if p := ProgressFor(job.ProcessedUnits, job.TotalUnits); p > job.ProgressPercent {
			job.ProgressPercent = p
		}
		if job.ProcessedUnits == job.TotalUnits {
			complete(job, now)
		}
		recorded = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if recorded {
		metrics.IncUnitProcessed(string(job.Kind), string(outcome.Status))
	}
	return job, recorded, nil
}

func (s *MemoryStore) RecordChunkProgress(_ context.Context, id uuid.UUID, documentID string, done, total int) error {
	_, err := s.update(id, func(job *types.Job, _ time.Time) error {
		md := job.StageMetadata.DocumentAnalysis
		if md == nil || job.Status.IsTerminal() || job.HasCompletedUnit(documentID) {
			return nil
		}
		if prev, ok := md.ChunkProgress[documentID]; ok && prev.Done > done {
			done = prev.Done
		}
		md.ChunkProgress[documentID] = types.ChunkProgress{Done: done, Total: total}
		if p := ChunkProgressFor(job.ProcessedUnits, job.TotalUnits, done, total); p > job.ProgressPercent {
			job.ProgressPercent = p
		}
		return nil
	})
	return err
}

func (s *MemoryStore) RecordTextExtraction(_ context.Context, id uuid.UUID, documentID string, meta types.TextExtractionMetadata) error {
	_, err := s.update(id, func(job *types.Job, _ time.Time) error {
		if md := job.StageMetadata.DocumentAnalysis; md != nil {
			md.TextExtraction[documentID] = meta
		}
		return nil
	})
	return err
}

func (s *MemoryStore) RecordAssembly(_ context.Context, id uuid.UUID, brainVersion int, sections, missing []string) error {
	_, err := s.update(id, func(job *types.Job, _ time.Time) error {
		if md := job.StageMetadata.RAGProcessing; md != nil {
			md.BrainVersion = brainVersion
			md.Sections = append([]string(nil), sections...)
			md.MissingSections = append([]string(nil), missing...)
		}
		return nil
	})
	return err
}

// MarkCompleted is for manual or administrative completion; workers complete jobs through
// RecordUnitProcessed.
func (s *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID) (*types.Job, error) {
	return s.update(id, func(job *types.Job, now time.Time) error {
		if job.Status == types.JobStatusCompleted {
			return nil
		}
		if !CanTransition(job.Status, types.JobStatusCompleted) || job.ProcessedUnits != job.TotalUnits {
			return &StateError{JobID: id, From: job.Status, Action: "complete"}
		}
		complete(job, now)
		return nil
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) (*types.Job, error) {
	return s.update(id, func(job *types.Job, now time.Time) error {
		if !CanTransition(job.Status, types.JobStatusFailed) {
			return &StateError{JobID: id, From: job.Status, Action: "fail"}
		}
		job.Status = types.JobStatusFailed
		job.ErrorMessage = &reason
		job.CompletedAt = &now
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusFailed))
		return nil
	})
}

func (s *MemoryStore) Retry(_ context.Context, id uuid.UUID) (*types.Job, error) {
	return s.update(id, func(job *types.Job, _ time.Time) error {
		if !CanTransition(job.Status, types.JobStatusPending) {
			return &StateError{JobID: id, From: job.Status, Action: "retry"}
		}
		resetForRetry(job)
		return nil
	})
}

func (s *MemoryStore) ListStale(_ context.Context, q StaleQuery) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Job
	for _, id := range s.order {
		if j := s.jobs[id]; q.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimRetrigger(_ context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (*types.Job, bool, error) {
	claimed := false
	job, err := s.update(id, func(job *types.Job, _ time.Time) error {
		if !CanRetrigger(job, now, cooldown) {
			return nil
		}
		stamp := now.UTC()
		job.LastRetriggeredAt = &stamp
		job.StallAttempts++
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, claimed, nil
}

// update applies fn to the stored job under the lock and returns a copy of the result.
// When fn fails the stored job is left untouched.
func (s *MemoryStore) update(id uuid.UUID, fn func(job *types.Job, now time.Time) error) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return nil, &NotFoundError{JobID: id}
	}
	working := stored.Clone()
	now := s.now()
	if err := fn(working, now); err != nil {
		return nil, err
	}
	working.UpdatedAt = now
	s.jobs[id] = working
	return working.Clone(), nil
}

func startProcessing(job *types.Job, now time.Time) {
	job.Status = types.JobStatusProcessing
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	metrics.IncJobTransition(string(job.Kind), string(types.JobStatusProcessing))
}

func complete(job *types.Job, now time.Time) {
	job.Status = types.JobStatusCompleted
	job.ProgressPercent = 100
	job.CompletedAt = &now
	metrics.IncJobTransition(string(job.Kind), string(types.JobStatusCompleted))
}

func resetForRetry(job *types.Job) {
	job.Status = types.JobStatusPending
	job.ProcessedUnits = 0
	job.ProgressPercent = 0
	job.ErrorMessage = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.StallAttempts = 0
	job.LastRetriggeredAt = nil
	job.StageMetadata = types.NewStageMetadata(job.Kind)
	metrics.IncJobTransition(string(job.Kind), string(types.JobStatusPending))
}

func sortNewestFirst(jobs []*types.Job) {
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
}
