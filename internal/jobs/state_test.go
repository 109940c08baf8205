package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/knowledge-brain/internal/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.JobStatus
		want     bool
	}{
		{types.JobStatusPending, types.JobStatusProcessing, true},
		{types.JobStatusPending, types.JobStatusFailed, true},
		{types.JobStatusPending, types.JobStatusCompleted, false},
		{types.JobStatusProcessing, types.JobStatusCompleted, true},
		{types.JobStatusProcessing, types.JobStatusFailed, true},
		{types.JobStatusProcessing, types.JobStatusPending, false},
		{types.JobStatusCompleted, types.JobStatusPending, false},
		{types.JobStatusCompleted, types.JobStatusFailed, false},
		{types.JobStatusFailed, types.JobStatusPending, true},
		{types.JobStatusFailed, types.JobStatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestProgressFor(t *testing.T) {
	assert.Equal(t, 0, ProgressFor(0, 3))
	assert.Equal(t, 33, ProgressFor(1, 3))
	assert.Equal(t, 66, ProgressFor(2, 3))
	assert.Equal(t, 100, ProgressFor(3, 3))
	assert.Equal(t, 0, ProgressFor(1, 0))
}

func TestChunkProgressFor(t *testing.T) {
	assert.Equal(t, 16, ChunkProgressFor(0, 2, 1, 3))
	assert.Equal(t, 83, ChunkProgressFor(1, 2, 2, 3))
	assert.Equal(t, 99, ChunkProgressFor(1, 1, 3, 3))
}

func TestCanRetrigger(t *testing.T) {
	now := time.Now()
	job := &types.Job{Status: types.JobStatusPending}
	assert.True(t, CanRetrigger(job, now, time.Minute))

	last := now.Add(-30 * time.Second)
	job.LastRetriggeredAt = &last
	assert.False(t, CanRetrigger(job, now, time.Minute))
	assert.True(t, CanRetrigger(job, now.Add(time.Minute), time.Minute))

	job.Status = types.JobStatusFailed
	assert.False(t, CanRetrigger(job, now.Add(time.Hour), time.Minute))
}

func TestView(t *testing.T) {
	job := &types.Job{Kind: types.JobKindDocumentAnalysis, Status: types.JobStatusProcessing, ProgressPercent: 45}
	v := View(job)
	assert.Equal(t, "Extracting rules and criteria", v.CurrentTask)
	assert.Equal(t, "2-3 minutes", v.EstimatedCompletion)

	job.ProgressPercent = 10
	assert.Equal(t, "5-10 minutes", View(job).EstimatedCompletion)

	job.Status = types.JobStatusCompleted
	assert.Equal(t, "Complete", View(job).CurrentTask)
	assert.Empty(t, View(job).EstimatedCompletion)

	job.Status = types.JobStatusPending
	assert.Equal(t, "Waiting in queue", View(job).CurrentTask)
}
