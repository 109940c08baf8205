package analysis

import "fmt"

// TransientError means the collaborator kept failing with retryable errors until the
// retry budget ran out. The unit should be redelivered later.
type TransientError struct {
	DocumentType string
	Chunk        int
	Message      string
	Cause        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient analysis failure for %s chunk %d: %s: %v", e.DocumentType, e.Chunk, e.Message, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// CollaboratorError is a non-retryable collaborator failure, such as a rejected request.
type CollaboratorError struct {
	DocumentType string
	Chunk        int
	Cause        error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator rejected %s chunk %d: %v", e.DocumentType, e.Chunk, e.Cause)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}
