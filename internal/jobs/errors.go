package jobs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// ValidationError represents invalid input to the job store
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job %s: %s", e.Field, e.Message)
}

// StateError represents a transition the state machine does not allow
type StateError struct {
	JobID  uuid.UUID
	From   types.JobStatus
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.From)
}

// NotFoundError represents a missing job
type NotFoundError struct {
	JobID     uuid.UUID
	SubjectID uuid.UUID
	Kind      types.JobKind
}

func (e *NotFoundError) Error() string {
	if e.JobID != uuid.Nil {
		return fmt.Sprintf("job not found: %s", e.JobID)
	}
	return fmt.Sprintf("no %s job found for subject %s", e.Kind, e.SubjectID)
}

// ConflictError represents a violation of the one-active-assembly-per-subject rule
type ConflictError struct {
	SubjectID uuid.UUID
	Kind      types.JobKind
	Cause     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("subject %s already has an active %s job", e.SubjectID, e.Kind)
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}
