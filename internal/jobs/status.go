package jobs

import "github.com/jonathan/knowledge-brain/internal/types"

// StatusView is the job as presented to API clients. CurrentTask and
// EstimatedCompletion are derived from the progress percent alone.
type StatusView struct {
	*types.Job
	CurrentTask         string `json:"current_task"`
	EstimatedCompletion string `json:"estimated_completion,omitempty"`
	PartialSuccess      string `json:"partial_success,omitempty"`
}

// View builds the presentation of a job.
func View(job *types.Job) StatusView {
	v := StatusView{Job: job, PartialSuccess: job.PartialSuccessNote()}

	switch job.Status {
	case types.JobStatusFailed:
		v.CurrentTask = "Failed"
		return v
	case types.JobStatusCompleted:
		v.CurrentTask = "Complete"
		return v
	case types.JobStatusPending:
		v.CurrentTask = "Waiting in queue"
		v.EstimatedCompletion = "pending"
		return v
	}

	p := job.ProgressPercent
	switch {
	case p < 20:
		v.CurrentTask, v.EstimatedCompletion = "Extracting document text", "5-10 minutes"
	case p < 40:
		v.CurrentTask, v.EstimatedCompletion = "Analyzing documents", "3-5 minutes"
	case p < 60:
		v.CurrentTask, v.EstimatedCompletion = "Extracting rules and criteria", "2-3 minutes"
	case p < 80:
		v.CurrentTask, v.EstimatedCompletion = "Consolidating results", "1-2 minutes"
	default:
		v.CurrentTask, v.EstimatedCompletion = "Finalizing", "under a minute"
	}
	if job.Kind == types.JobKindRAGProcessing {
		v.CurrentTask = "Assembling knowledge brain"
	}
	return v
}
