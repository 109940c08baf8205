package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestNewStageMetadata_SetsOnlyMatchingVariant(t *testing.T) {
	md := NewStageMetadata(JobKindDocumentAnalysis)
	require.NotNil(t, md.DocumentAnalysis)
	assert.Nil(t, md.RAGProcessing)
	assert.Equal(t, JobKindDocumentAnalysis, md.Kind)

	md = NewStageMetadata(JobKindRAGProcessing)
	require.NotNil(t, md.RAGProcessing)
	assert.Nil(t, md.DocumentAnalysis)
}

func TestJob_CloneIsDeep(t *testing.T) {
	now := time.Now()
	msg := "boom"
	job := &Job{
		ID:            uuid.New(),
		Kind:          JobKindDocumentAnalysis,
		StageMetadata: NewStageMetadata(JobKindDocumentAnalysis),
		ErrorMessage:  &msg,
		StartedAt:     &now,
	}
	job.StageMetadata.DocumentAnalysis.CompletedUnits["a"] = UnitOutcome{UnitID: "a"}

	clone := job.Clone()
	clone.StageMetadata.DocumentAnalysis.CompletedUnits["b"] = UnitOutcome{UnitID: "b"}
	*clone.ErrorMessage = "changed"

	assert.Len(t, job.StageMetadata.DocumentAnalysis.CompletedUnits, 1)
	assert.Equal(t, "boom", *job.ErrorMessage)
	assert.True(t, clone.HasCompletedUnit("a"))
	assert.True(t, clone.HasCompletedUnit("b"))
}

func TestJob_PartialSuccessNote(t *testing.T) {
	job := &Job{
		Kind:          JobKindDocumentAnalysis,
		TotalUnits:    3,
		StageMetadata: NewStageMetadata(JobKindDocumentAnalysis),
	}
	units := job.StageMetadata.DocumentAnalysis.CompletedUnits
	units["a"] = UnitOutcome{UnitID: "a", Status: UnitStatusSucceeded}
	units["b"] = UnitOutcome{UnitID: "b", Status: UnitStatusSucceeded}
	assert.Empty(t, job.PartialSuccessNote())

	units["c"] = UnitOutcome{UnitID: "c", Status: UnitStatusSkipped, Note: "unreadable"}
	assert.Equal(t, "2 of 3 units succeeded; 1 skipped", job.PartialSuccessNote())
}

func TestDocumentType_Valid(t *testing.T) {
	assert.True(t, DocumentTypeCriteria.Valid())
	assert.False(t, DocumentType("spreadsheet").Valid())
}

func TestUploadDocumentRequest_Validate(t *testing.T) {
	req := &UploadDocumentRequest{DocumentType: DocumentTypePolicy, FileName: "p.md", Content: "rules"}
	assert.NoError(t, req.Validate())

	req.DocumentType = "unknown"
	assert.Error(t, req.Validate())
}
