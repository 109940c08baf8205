package assessment

import (
	"fmt"

	"github.com/google/uuid"
)

// AssessmentError is returned when a submission cannot be assessed against a brain.
type AssessmentError struct {
	SubjectID uuid.UUID
	Message   string
	Cause     error
}

func (e *AssessmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("assessment failed for subject %s: %s: %v", e.SubjectID, e.Message, e.Cause)
	}
	return fmt.Sprintf("assessment failed for subject %s: %s", e.SubjectID, e.Message)
}

func (e *AssessmentError) Unwrap() error {
	return e.Cause
}
