package brain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MissingAnalysisError represents an assembly attempt without analysis for required sections
type MissingAnalysisError struct {
	SubjectID uuid.UUID
	Sections  []string
}

func (e *MissingAnalysisError) Error() string {
	return fmt.Sprintf("missing analysis for required sections: %s", strings.Join(e.Sections, ", "))
}

// NotReadyError represents an assembly request for a subject whose document analysis has not completed
type NotReadyError struct {
	SubjectID uuid.UUID
	Cause     error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("subject %s is not ready for assembly: %v", e.SubjectID, e.Cause)
}

func (e *NotReadyError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a subject with no brain, or without the requested version
type NotFoundError struct {
	SubjectID uuid.UUID
	Version   int
}

func (e *NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("brain version %d not found for subject %s", e.Version, e.SubjectID)
	}
	return fmt.Sprintf("no brain assembled for subject %s", e.SubjectID)
}

// VersionConflictError represents a concurrent write of the same brain version
type VersionConflictError struct {
	SubjectID uuid.UUID
	Version   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("brain version %d already exists for subject %s", e.Version, e.SubjectID)
}
