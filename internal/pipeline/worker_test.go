package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/types"
)

func TestWorker_AllDocumentsSucceed(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "Applicant name. Budget.")
	e.addDocument(t, types.DocumentTypeCriteria, "Impact is scored out of 10.")
	e.addDocument(t, types.DocumentTypePolicy, "Applicants must be registered.")
	ctx := context.Background()

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)
	assert.Equal(t, 3, job.TotalUnits)
	assert.Len(t, e.queue.Pending(queue.TopicDocumentAnalysis), 3)

	assert.Equal(t, 0, e.drainDocuments(t))

	got, err := e.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, 3, got.ProcessedUnits)
	assert.Empty(t, got.PartialSuccessNote())

	rag, err := e.jobs.Latest(ctx, e.subject, types.JobKindRAGProcessing)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, rag.Status)
	assert.Len(t, e.queue.Pending(queue.TopicBrainAssembly), 1)

	failed := e.queue.Drain(ctx, queue.TopicBrainAssembly, e.worker.HandleAssemblyMessage, 5)
	assert.Equal(t, 0, failed)
	b, err := e.brains.Latest(ctx, e.subject)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
	subject, _ := e.docs.GetSubject(ctx, e.subject)
	assert.Equal(t, types.SubjectStatusActive, subject.Status)
}

func TestWorker_PermanentFailureIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	bad := e.addDocument(t, types.DocumentTypePolicy, "policy")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()

	e.analyzer.AnalyzeFunc = func(_ context.Context, dt types.DocumentType, _ string, _ analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		if dt == types.DocumentTypePolicy {
			return nil, &analysis.CollaboratorError{DocumentType: string(dt), Chunk: 1, Cause: errors.New("401 unauthorized")}
		}
		a := analysisFor(dt)
		return &a, nil
	}

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)
	e.drainDocuments(t)

	got, err := e.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedUnits)
	outcome := got.CompletedUnits()[bad.ID.String()]
	assert.Equal(t, types.UnitStatusSkipped, outcome.Status)
	assert.Contains(t, outcome.Note, "401")
	assert.Equal(t, "2 of 3 units succeeded; 1 skipped", got.PartialSuccessNote())

	doc, _ := e.docs.GetDocument(ctx, bad.ID)
	assert.Nil(t, doc.AnalysisResult)
}

func TestWorker_UnreadableDocumentIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.docs.CreateDocument(ctx, &types.Document{
		SubjectID:    e.subject,
		DocumentType: types.DocumentTypeTemplate,
		StorageKey:   "subjects/x/empty.txt",
		FileName:     "empty.txt",
		ContentType:  "text/plain",
	})
	require.NoError(t, err)
	_, err = e.storage.Put(ctx, doc.StorageKey, []byte("   \n\t "), "text/plain")
	require.NoError(t, err)
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)

	require.NoError(t, e.worker.HandleDocument(ctx, queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID}))

	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, 1, got.ProcessedUnits)
	assert.Equal(t, types.UnitStatusSkipped, got.CompletedUnits()[doc.ID.String()].Status)
	assert.Equal(t, "failed", got.StageMetadata.DocumentAnalysis.TextExtraction[doc.ID.String()].Status)
}

func TestWorker_StorageKeyNotFoundIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.docs.CreateDocument(ctx, &types.Document{
		SubjectID:    e.subject,
		DocumentType: types.DocumentTypeCriteria,
		StorageKey:   "subjects/x/never-uploaded.txt",
		FileName:     "never-uploaded.txt",
	})
	require.NoError(t, err)
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)

	require.NoError(t, e.worker.HandleDocument(ctx, queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID}))

	got, _ := e.jobs.Get(ctx, job.ID)
	outcome := got.CompletedUnits()[doc.ID.String()]
	assert.Equal(t, types.UnitStatusSkipped, outcome.Status)
	assert.Contains(t, outcome.Note, "not found")
}

func TestWorker_TransientFailuresAreRedelivered(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	ctx := context.Background()

	calls := 0
	e.analyzer.AnalyzeFunc = func(_ context.Context, dt types.DocumentType, _ string, _ analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		calls++
		if calls == 1 {
			return nil, &analysis.TransientError{DocumentType: string(dt), Chunk: 1, Message: "retries exhausted", Cause: context.DeadlineExceeded}
		}
		a := analysisFor(dt)
		return &a, nil
	}

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)
	failed := e.drainDocuments(t)

	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, calls)
	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ProcessedUnits)
}

func TestWorker_StorageOutageIsRedelivered(t *testing.T) {
	e := newEnv(t)
	doc := e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)
	e.storage.GetErr = errors.New("connection reset by peer")

	err = e.worker.HandleDocument(ctx, queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID})

	require.Error(t, err)
	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, 0, got.ProcessedUnits)
	assert.Equal(t, types.JobStatusProcessing, got.Status)
}

func TestWorker_DuplicateDeliveryIsNoOp(t *testing.T) {
	e := newEnv(t)
	doc := e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)

	calls := 0
	e.analyzer.AnalyzeFunc = func(_ context.Context, dt types.DocumentType, _ string, _ analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		calls++
		a := analysisFor(dt)
		return &a, nil
	}
	msg := queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID}

	require.NoError(t, e.worker.HandleDocument(ctx, msg))
	require.NoError(t, e.worker.HandleDocument(ctx, msg))

	assert.Equal(t, 1, calls)
	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, 1, got.ProcessedUnits)
	assert.Equal(t, 50, got.ProgressPercent)
}

func TestWorker_FailedJobIgnoresMessages(t *testing.T) {
	e := newEnv(t)
	doc := e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 1)
	require.NoError(t, err)
	_, err = e.jobs.MarkFailed(ctx, job.ID, "cancelled by operator")
	require.NoError(t, err)

	calls := 0
	e.analyzer.AnalyzeFunc = func(context.Context, types.DocumentType, string, analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		calls++
		return nil, nil
	}

	require.NoError(t, e.worker.HandleDocument(ctx, queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID}))
	assert.Equal(t, 0, calls)
}

func TestWorker_RecordsChunkProgress(t *testing.T) {
	e := newEnv(t)
	doc := e.addDocument(t, types.DocumentTypePolicy, "policy text")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)

	e.analyzer.AnalyzeFunc = func(_ context.Context, dt types.DocumentType, _ string, onProgress analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		onProgress(1, 3)
		onProgress(2, 3)
		got, _ := e.jobs.Get(ctx, job.ID)
		assert.Equal(t, 33, got.ProgressPercent)
		onProgress(3, 3)
		a := analysisFor(dt)
		return &a, nil
	}

	require.NoError(t, e.worker.HandleDocument(ctx, queue.DocumentMessage{JobID: job.ID, DocumentID: doc.ID}))

	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, 50, got.ProgressPercent)
	assert.Equal(t, types.ChunkProgress{Done: 3, Total: 3}, got.StageMetadata.DocumentAnalysis.ChunkProgress[doc.ID.String()])
	extraction := got.StageMetadata.DocumentAnalysis.TextExtraction[doc.ID.String()]
	assert.Equal(t, "plain", extraction.Extractor)
	assert.Equal(t, "succeeded", extraction.Status)
}

func TestWorker_MalformedMessageIsAcked(t *testing.T) {
	e := newEnv(t)
	err := e.worker.HandleDocumentMessage(context.Background(), queue.Message{ID: "1", Payload: []byte("{")})
	assert.NoError(t, err)
}

func TestWorker_AssemblyRejectionIsAcked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rag, err := e.jobs.Create(ctx, e.subject, types.JobKindRAGProcessing, 1)
	require.NoError(t, err)

	err = e.worker.HandleAssembly(ctx, queue.AssemblyTask{SubjectID: e.subject, JobID: rag.ID})

	assert.NoError(t, err)
	got, _ := e.jobs.Get(ctx, rag.ID)
	assert.Equal(t, types.JobStatusFailed, got.Status)
}

func TestWorker_ExhaustedDocumentIsSkippedSoJobCompletes(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	stuck := e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()

	e.analyzer.AnalyzeFunc = func(_ context.Context, dt types.DocumentType, _ string, _ analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
		if dt == types.DocumentTypeCriteria {
			return nil, &analysis.TransientError{DocumentType: string(dt), Chunk: 1, Message: "retries exhausted", Cause: context.DeadlineExceeded}
		}
		a := analysisFor(dt)
		return &a, nil
	}

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)
	failed := e.drainDocuments(t)

	assert.Equal(t, queue.DefaultMaxDeliveries, failed)
	assert.Len(t, e.queue.Dead(queue.TopicDocumentAnalysis), 1)

	got, err := e.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedUnits)
	outcome := got.CompletedUnits()[stuck.ID.String()]
	assert.Equal(t, types.UnitStatusSkipped, outcome.Status)
	assert.Contains(t, outcome.Note, "transient retries exhausted")
	assert.Equal(t, "1 of 2 units succeeded; 1 skipped", got.PartialSuccessNote())

	_, err = e.jobs.Latest(ctx, e.subject, types.JobKindRAGProcessing)
	assert.NoError(t, err)
}

func TestWorker_DocumentDeadLetterIgnoresSettledUnits(t *testing.T) {
	e := newEnv(t)
	doc := e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)
	msg := queue.DocumentMessage{SubjectID: e.subject, JobID: job.ID, DocumentID: doc.ID}
	require.NoError(t, e.worker.HandleDocument(ctx, msg))

	payload, err := queue.Encode(msg)
	require.NoError(t, err)
	err = e.worker.HandleDocumentDeadLetter(ctx, queue.Message{Payload: payload}, errors.New("late"))

	require.NoError(t, err)
	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, 1, got.ProcessedUnits)
	assert.Equal(t, types.UnitStatusSucceeded, got.CompletedUnits()[doc.ID.String()].Status)
}

func TestWorker_AssemblyDeadLetterFailsJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rag, err := e.jobs.Create(ctx, e.subject, types.JobKindRAGProcessing, 1)
	require.NoError(t, err)
	payload, err := queue.Encode(queue.AssemblyTask{SubjectID: e.subject, JobID: rag.ID})
	require.NoError(t, err)
	cause := &queue.ExhaustedError{Topic: queue.TopicBrainAssembly, Deliveries: 10}

	require.NoError(t, e.worker.HandleAssemblyDeadLetter(ctx, queue.Message{Payload: payload}, cause))

	got, _ := e.jobs.Get(ctx, rag.ID)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "assembly retries exhausted")
	subject, _ := e.docs.GetSubject(ctx, e.subject)
	assert.Equal(t, types.SubjectStatusFailed, subject.Status)

	assert.NoError(t, e.worker.HandleAssemblyDeadLetter(ctx, queue.Message{Payload: payload}, cause))
}
