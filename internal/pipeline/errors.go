package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// EnqueueError represents a failure to hand work to the queue
type EnqueueError struct {
	JobID      uuid.UUID
	DocumentID uuid.UUID
	Topic      string
	Cause      error
}

func (e *EnqueueError) Error() string {
	if e.DocumentID != uuid.Nil {
		return fmt.Sprintf("queue unavailable: failed to enqueue document %s for job %s: %v", e.DocumentID, e.JobID, e.Cause)
	}
	return fmt.Sprintf("queue unavailable: failed to publish %s task for job %s: %v", e.Topic, e.JobID, e.Cause)
}

func (e *EnqueueError) Unwrap() error {
	return e.Cause
}
