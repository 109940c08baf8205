package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// mockRetriggerer records re-triggers.
type mockRetriggerer struct {
	mu                  sync.Mutex
	redispatched        []uuid.UUID
	assemblies          []uuid.UUID
	RedispatchFunc      func(ctx context.Context, job *types.Job) (int, error)
	TriggerAssemblyFunc func(ctx context.Context, job *types.Job, reason string) error
}

func (m *mockRetriggerer) Redispatch(ctx context.Context, job *types.Job) (int, error) {
	m.mu.Lock()
	m.redispatched = append(m.redispatched, job.ID)
	m.mu.Unlock()
	if m.RedispatchFunc != nil {
		return m.RedispatchFunc(ctx, job)
	}
	return 1, nil
}

func (m *mockRetriggerer) TriggerAssembly(ctx context.Context, job *types.Job, reason string) error {
	m.mu.Lock()
	m.assemblies = append(m.assemblies, job.ID)
	m.mu.Unlock()
	if m.TriggerAssemblyFunc != nil {
		return m.TriggerAssemblyFunc(ctx, job, reason)
	}
	return nil
}

func (m *mockRetriggerer) RedispatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redispatched)
}

func (m *mockRetriggerer) TriggerAssemblyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assemblies)
}

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newDetector(t *testing.T) (*Detector, *jobs.MemoryStore, *mockRetriggerer) {
	t.Helper()
	store := jobs.NewMemoryStore()
	store.Now = func() time.Time { return base }
	m := &mockRetriggerer{}
	d := NewDetector(store, nil, m, DefaultConfig(), nil)
	return d, store, m
}

func TestSweep_PendingJobRetriggeredOncePerCooldown(t *testing.T) {
	d, store, m := newDetector(t)
	ctx := context.Background()
	job, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 3)
	require.NoError(t, err)

	now := base.Add(3 * time.Minute)
	for i := 0; i < 4; i++ {
		_, err := d.Sweep(ctx, now.Add(time.Duration(i)*30*time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, m.RedispatchCalls())
	got, _ := store.Get(ctx, job.ID)
	assert.Equal(t, 1, got.StallAttempts)

	res, err := d.Sweep(ctx, now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retriggered)
	assert.Equal(t, 2, m.RedispatchCalls())
}

func TestSweep_FreshJobsUntouched(t *testing.T) {
	d, store, m := newDetector(t)
	ctx := context.Background()
	_, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)

	res, err := d.Sweep(ctx, base.Add(time.Minute))

	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Equal(t, 0, m.RedispatchCalls())
}

func TestSweep_ProcessingWithoutProgress(t *testing.T) {
	d, store, m := newDetector(t)
	ctx := context.Background()
	stuck, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)
	_, err = store.MarkProcessing(ctx, stuck.ID)
	require.NoError(t, err)
	moving, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)
	_, _, err = store.RecordUnitProcessed(ctx, moving.ID, types.UnitOutcome{UnitID: "a", Status: types.UnitStatusSucceeded})
	require.NoError(t, err)

	// Stale for PENDING but not yet for PROCESSING.
	res, err := d.Sweep(ctx, base.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)

	res, err = d.Sweep(ctx, base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retriggered)
	assert.Equal(t, []uuid.UUID{stuck.ID}, m.redispatched)
}

func TestSweep_AssemblyJobRepublished(t *testing.T) {
	d, store, m := newDetector(t)
	ctx := context.Background()
	_, err := store.Create(ctx, uuid.New(), types.JobKindRAGProcessing, 1)
	require.NoError(t, err)

	res, err := d.Sweep(ctx, base.Add(3*time.Minute))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Retriggered)
	assert.Equal(t, 1, m.TriggerAssemblyCalls())
	assert.Equal(t, 0, m.RedispatchCalls())
}

func TestSweep_ExhaustedJobIsFailed(t *testing.T) {
	d, store, m := newDetector(t)
	ctx := context.Background()
	job, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)

	now := base.Add(3 * time.Minute)
	for i := 0; i < 3; i++ {
		res, err := d.Sweep(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, res.Retriggered)
		now = now.Add(6 * time.Minute)
	}

	res, err := d.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, m.RedispatchCalls())

	got, _ := store.Get(ctx, job.ID)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "stalled: no progress after 3 recovery attempts", *got.ErrorMessage)
}

func TestSweep_ExhaustedJobFailsSubject(t *testing.T) {
	store := jobs.NewMemoryStore()
	store.Now = func() time.Time { return base }
	docs := documents.NewMemoryRepository()
	d := NewDetector(store, docs, &mockRetriggerer{}, Config{MaxAttempts: 1}, nil)
	ctx := context.Background()

	subject, err := docs.CreateSubject(ctx, "Innovation Fund", "fund")
	require.NoError(t, err)
	require.NoError(t, docs.UpdateSubjectStatus(ctx, subject.ID, types.SubjectStatusProcessing))
	job, err := store.Create(ctx, subject.ID, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)

	now := base.Add(3 * time.Minute)
	res, err := d.Sweep(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, res.Retriggered)

	res, err = d.Sweep(ctx, now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, _ := store.Get(ctx, job.ID)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	s, err := docs.GetSubject(ctx, subject.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SubjectStatusFailed, s.Status)
}

func TestSweep_ExhaustedJobWaitsForLastCooldown(t *testing.T) {
	d, store, _ := newDetector(t)
	ctx := context.Background()
	job, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)
	last := base.Add(10 * time.Minute)
	store.Put(&types.Job{
		ID:                job.ID,
		SubjectID:         job.SubjectID,
		Kind:              job.Kind,
		Status:            types.JobStatusPending,
		TotalUnits:        1,
		StageMetadata:     types.NewStageMetadata(job.Kind),
		CreatedAt:         base,
		StallAttempts:     3,
		LastRetriggeredAt: &last,
	})

	res, err := d.Sweep(ctx, last.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	got, _ := store.Get(ctx, job.ID)
	assert.Equal(t, types.JobStatusPending, got.Status)
}

func TestSweep_RetriggerErrorIsCounted(t *testing.T) {
	d, store, m := newDetector(t)
	m.RedispatchFunc = func(context.Context, *types.Job) (int, error) { return 0, errors.New("queue down") }
	ctx := context.Background()
	_, err := store.Create(ctx, uuid.New(), types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)

	res, err := d.Sweep(ctx, base.Add(3*time.Minute))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	started := base
	job := &types.Job{Status: types.JobStatusProcessing, StartedAt: &started, CreatedAt: base}

	assert.Equal(t, Fresh, cfg.Classify(job, base.Add(time.Minute)))
	assert.Equal(t, StaleProcessing, cfg.Classify(job, base.Add(6*time.Minute)))

	job.Status = types.JobStatusPending
	assert.Equal(t, StalePending, cfg.Classify(job, base.Add(3*time.Minute)))

	job.Status = types.JobStatusCompleted
	assert.Equal(t, Fresh, cfg.Classify(job, base.Add(time.Hour)))
}

func TestDetector_Lifecycle(t *testing.T) {
	store := jobs.NewMemoryStore()
	d := NewDetector(store, nil, &mockRetriggerer{}, Config{Interval: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	assert.False(t, d.Running())
	require.NoError(t, d.Start(ctx))
	assert.True(t, d.Running())
	assert.ErrorIs(t, d.Start(ctx), ErrAlreadyRunning)

	d.Stop()
	assert.False(t, d.Running())
	d.Stop()

	require.NoError(t, d.Start(ctx))
	d.Stop()
}
