package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/types"
)

func TestDispatchSubject_NoDocuments(t *testing.T) {
	e := newEnv(t)
	_, err := e.dispatcher.DispatchSubject(context.Background(), e.subject)
	var validation *jobs.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestDispatchSubject_QueueUnavailable(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	e.queue.PublishErr = errors.New("connection refused")
	ctx := context.Background()

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)

	var enqueueErr *EnqueueError
	require.True(t, errors.As(err, &enqueueErr))
	require.NotNil(t, job)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "queue unavailable")

	subject, _ := e.docs.GetSubject(ctx, e.subject)
	assert.Equal(t, types.SubjectStatusFailed, subject.Status)
}

func TestRedispatch_SkipsCompletedDocuments(t *testing.T) {
	e := newEnv(t)
	done := e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx := context.Background()
	job, err := e.jobs.Create(ctx, e.subject, types.JobKindDocumentAnalysis, 2)
	require.NoError(t, err)
	job, _, err = e.jobs.RecordUnitProcessed(ctx, job.ID, types.UnitOutcome{UnitID: done.ID.String(), Status: types.UnitStatusSucceeded})
	require.NoError(t, err)

	sent, err := e.dispatcher.Redispatch(ctx, job)

	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	pending := e.queue.Pending(queue.TopicDocumentAnalysis)
	require.Len(t, pending, 1)
	msg, err := queue.DecodeDocument(pending[0].Payload)
	require.NoError(t, err)
	assert.NotEqual(t, done.ID, msg.DocumentID)
}

func TestRetry_OnlyFailedJobs(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	ctx := context.Background()
	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)

	_, err = e.dispatcher.Retry(ctx, job.ID)

	var stateErr *jobs.StateError
	assert.True(t, errors.As(err, &stateErr))
	assert.Len(t, e.queue.Pending(queue.TopicDocumentAnalysis), 1)
}

func TestRetry_RequeuesFailedAnalysis(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	e.queue.PublishErr = errors.New("down")
	ctx := context.Background()
	failed, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.Error(t, err)

	e.queue.PublishErr = nil
	job, err := e.dispatcher.Retry(ctx, failed.ID)

	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Nil(t, job.ErrorMessage)
	assert.Len(t, e.queue.Pending(queue.TopicDocumentAnalysis), 2)

	e.drainDocuments(t)
	got, _ := e.jobs.Get(ctx, job.ID)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
}

func TestRetry_RepublishesAssembly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rag, err := e.jobs.Create(ctx, e.subject, types.JobKindRAGProcessing, 1)
	require.NoError(t, err)
	_, err = e.jobs.MarkFailed(ctx, rag.ID, "missing analysis for required sections: criteria")
	require.NoError(t, err)

	_, err = e.dispatcher.Retry(ctx, rag.ID)

	require.NoError(t, err)
	pending := e.queue.Pending(queue.TopicBrainAssembly)
	require.Len(t, pending, 1)
	task, err := queue.DecodeAssembly(pending[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, rag.ID, task.JobID)
	assert.Equal(t, "retry", task.Reason)
}

func TestWorkerRun_ConsumesUntilCancelled(t *testing.T) {
	e := newEnv(t)
	e.addDocument(t, types.DocumentTypeApplicationForm, "form")
	e.addDocument(t, types.DocumentTypeCriteria, "criteria")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := e.dispatcher.DispatchSubject(ctx, e.subject)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := e.brains.Latest(context.Background(), e.subject)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := e.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, types.JobStatusCompleted, got.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
