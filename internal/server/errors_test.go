package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/knowledge-brain/internal/assessment"
	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/pipeline"
	"github.com/jonathan/knowledge-brain/internal/storage"
	"github.com/jonathan/knowledge-brain/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "file", Message: "file is empty"}
	assert.Equal(t, "validation error: file - file is empty", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"request validation", &ErrValidation{Field: "name", Message: "required"}, http.StatusBadRequest},
		{"job validation", &jobs.ValidationError{Field: "documents", Message: "none"}, http.StatusBadRequest},
		{"request struct validation", (&types.CreateSubjectRequest{}).Validate(), http.StatusBadRequest},
		{"invalid storage key", fmt.Errorf("put: %w", storage.ErrInvalidKey), http.StatusBadRequest},
		{"job not found", &jobs.NotFoundError{JobID: id}, http.StatusNotFound},
		{"subject not found", &documents.NotFoundError{Entity: "subject", ID: id}, http.StatusNotFound},
		{"brain not found", &brain.NotFoundError{SubjectID: id}, http.StatusNotFound},
		{"illegal transition", &jobs.StateError{JobID: id, From: types.JobStatusCompleted, Action: "retry"}, http.StatusConflict},
		{"active job conflict", &jobs.ConflictError{SubjectID: id, Kind: types.JobKindRAGProcessing}, http.StatusConflict},
		{"not ready", &brain.NotReadyError{SubjectID: id}, http.StatusConflict},
		{"version conflict", &brain.VersionConflictError{SubjectID: id, Version: 2}, http.StatusConflict},
		{"missing analysis", &brain.MissingAnalysisError{SubjectID: id, Sections: []string{"criteria"}}, http.StatusUnprocessableEntity},
		{"assessment", &assessment.AssessmentError{SubjectID: id, Message: "no criteria"}, http.StatusUnprocessableEntity},
		{"queue down", &pipeline.EnqueueError{JobID: id, Cause: errors.New("dial tcp")}, http.StatusServiceUnavailable},
		{"wrapped not found", fmt.Errorf("lookup: %w", &jobs.NotFoundError{JobID: id}), http.StatusNotFound},
		{"unknown", assert.AnError, http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
