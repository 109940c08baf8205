package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/knowledge-brain/internal/assessment"
	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/pipeline"
	"github.com/jonathan/knowledge-brain/internal/storage"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	var (
		reqErr        *ErrValidation
		fieldErrs     validator.ValidationErrors
		jobInvalid    *jobs.ValidationError
		jobMissing    *jobs.NotFoundError
		docMissing    *documents.NotFoundError
		brainMissing  *brain.NotFoundError
		jobState      *jobs.StateError
		jobConflict   *jobs.ConflictError
		notReady      *brain.NotReadyError
		versionClash  *brain.VersionConflictError
		missingInputs *brain.MissingAnalysisError
		assessFailed  *assessment.AssessmentError
		enqueueFailed *pipeline.EnqueueError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &fieldErrs), errors.As(err, &jobInvalid),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.As(err, &jobMissing), errors.As(err, &docMissing), errors.As(err, &brainMissing):
		return http.StatusNotFound
	case errors.As(err, &jobState), errors.As(err, &jobConflict), errors.As(err, &notReady),
		errors.As(err, &versionClash):
		return http.StatusConflict
	case errors.As(err, &missingInputs), errors.As(err, &assessFailed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &enqueueFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
