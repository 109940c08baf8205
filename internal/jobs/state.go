// Package jobs implements the durable job state machine shared by the pipeline stages.
package jobs

import (
	"fmt"
	"time"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// DefaultRAGUnits is the unit count of an assembly job.
const DefaultRAGUnits = 1

var transitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusPending:    {types.JobStatusProcessing, types.JobStatusFailed},
	types.JobStatusProcessing: {types.JobStatusCompleted, types.JobStatusFailed},
	types.JobStatusFailed:     {types.JobStatusPending},
}

// CanTransition reports whether the state machine allows moving from one status to another.
func CanTransition(from, to types.JobStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateCreate checks the arguments of a job creation and returns the unit count to store.
func ValidateCreate(kind types.JobKind, totalUnits int) (int, error) {
	switch kind {
	case types.JobKindDocumentAnalysis:
		if totalUnits <= 0 {
			return 0, &ValidationError{Field: "total_units", Message: fmt.Sprintf("must be positive, got %d", totalUnits)}
		}
		return totalUnits, nil
	case types.JobKindRAGProcessing:
		if totalUnits <= 0 {
			return DefaultRAGUnits, nil
		}
		return totalUnits, nil
	default:
		return 0, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}
}

// ProgressFor is the percent implied by processed units, floored.
func ProgressFor(processed, total int) int {
	if total <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return processed * 100 / total
}

// ChunkProgressFor is the percent implied by processed units plus a fraction of the
// current unit. It stays below 100 until the job completes.
func ChunkProgressFor(processed, total, chunksDone, chunksTotal int) int {
	if total <= 0 || chunksTotal <= 0 {
		return ProgressFor(processed, total)
	}
	pct := (processed*chunksTotal + chunksDone) * 100 / (total * chunksTotal)
	if pct > 99 {
		pct = 99
	}
	return pct
}

// StaleQuery selects jobs that have made no progress for too long.
type StaleQuery struct {
	// ProcessingBefore matches PROCESSING jobs with no processed units started before it.
	ProcessingBefore time.Time
	// PendingBefore matches PENDING jobs created before it.
	PendingBefore time.Time
}

// Matches reports whether job is stale under the query.
func (q StaleQuery) Matches(job *types.Job) bool {
	switch job.Status {
	case types.JobStatusProcessing:
		return job.ProcessedUnits == 0 && job.StartedAt != nil && job.StartedAt.Before(q.ProcessingBefore)
	case types.JobStatusPending:
		return job.CreatedAt.Before(q.PendingBefore)
	}
	return false
}

// CanRetrigger reports whether the cool-down since the job's last re-trigger has elapsed.
func CanRetrigger(job *types.Job, now time.Time, cooldown time.Duration) bool {
	if job.Status.IsTerminal() {
		return false
	}
	return job.LastRetriggeredAt == nil || !now.Before(job.LastRetriggeredAt.Add(cooldown))
}
