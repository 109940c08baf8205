package ingestion

import "fmt"

// UnreadableError means a document's bytes could not be turned into usable text.
// Retrying will not help.
type UnreadableError struct {
	FileName string
	Message  string
	Cause    error
}

func (e *UnreadableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unreadable document %s: %s: %v", e.FileName, e.Message, e.Cause)
	}
	return fmt.Sprintf("unreadable document %s: %s", e.FileName, e.Message)
}

func (e *UnreadableError) Unwrap() error {
	return e.Cause
}
