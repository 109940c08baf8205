package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/pipeline/stages"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// Dispatcher turns subjects and jobs into queued work.
type Dispatcher struct {
	jobs  jobs.Store
	docs  documents.Repository
	queue queue.Queue
	log   *logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(jobStore jobs.Store, docs documents.Repository, q queue.Queue, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{jobs: jobStore, docs: docs, queue: q, log: log.With("component", "dispatcher")}
}

// DispatchSubject creates a DOCUMENT_ANALYSIS job covering every document of the subject and
// enqueues one message per document. When a message cannot be enqueued the job and the subject
// are marked failed and an *EnqueueError is returned along with the failed job.
func (d *Dispatcher) DispatchSubject(ctx context.Context, subjectID uuid.UUID) (*types.Job, error) {
	if _, err := d.docs.GetSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	docs, err := d.docs.ListDocuments(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, &jobs.ValidationError{Field: "documents", Message: "subject has no documents to process"}
	}

	job, err := d.jobs.Create(ctx, subjectID, types.JobKindDocumentAnalysis, len(docs))
	if err != nil {
		return nil, err
	}
	if err := d.docs.UpdateSubjectStatus(ctx, subjectID, types.SubjectStatusProcessing); err != nil {
		d.log.Warn("failed to mark subject processing", "subject_id", subjectID, "error", err)
	}

	for _, doc := range docs {
		if err := d.publishDocument(ctx, job, doc); err != nil {
			return d.failDispatch(ctx, job, err)
		}
	}

	d.log.Info("dispatched subject", "subject_id", subjectID, "job_id", job.ID, "documents", len(docs))
	return job, nil
}

// Redispatch re-enqueues the documents of a DOCUMENT_ANALYSIS job that have no recorded outcome yet.
// It returns how many messages were published.
func (d *Dispatcher) Redispatch(ctx context.Context, job *types.Job) (int, error) {
	if job.Kind != types.JobKindDocumentAnalysis {
		return 0, &jobs.ValidationError{Field: "kind", Message: fmt.Sprintf("cannot redispatch %s job", job.Kind)}
	}
	docs, err := d.docs.ListDocuments(ctx, job.SubjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	sent := 0
	for _, doc := range docs {
		if job.HasCompletedUnit(doc.ID.String()) {
			continue
		}
		if err := d.publishDocument(ctx, job, doc); err != nil {
			return sent, err
		}
		sent++
	}
	d.log.Info("redispatched job", "job_id", job.ID, "documents", sent)
	return sent, nil
}

// TriggerAssembly publishes the assembly task for a RAG_PROCESSING job.
func (d *Dispatcher) TriggerAssembly(ctx context.Context, job *types.Job, reason string) error {
	payload, err := queue.Encode(queue.AssemblyTask{SubjectID: job.SubjectID, JobID: job.ID, Reason: reason})
	if err != nil {
		return err
	}
	return d.publish(ctx, job, uuid.Nil, payload)
}

// Retry resets a FAILED job and re-enqueues its work. Jobs in any other status are rejected
// with *jobs.StateError and left untouched.
func (d *Dispatcher) Retry(ctx context.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := d.jobs.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := d.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusProcessing); err != nil {
		d.log.Warn("failed to mark subject processing", "subject_id", job.SubjectID, "error", err)
	}

	switch job.Kind {
	case types.JobKindDocumentAnalysis:
		_, err = d.Redispatch(ctx, job)
	case types.JobKindRAGProcessing:
		err = d.TriggerAssembly(ctx, job, "retry")
	}
	if err != nil {
		// The job stays PENDING; the stall detector picks it up once the queue is back.
		d.log.Warn("retry re-enqueue failed", "job_id", job.ID, "error", err)
		return job, err
	}
	d.log.Info("job retried", "job_id", job.ID, "kind", job.Kind)
	return job, nil
}

func (d *Dispatcher) publishDocument(ctx context.Context, job *types.Job, doc *types.Document) error {
	payload, err := queue.Encode(queue.DocumentMessage{
		SubjectID:    job.SubjectID,
		JobID:        job.ID,
		DocumentID:   doc.ID,
		StorageKey:   doc.StorageKey,
		DocumentType: doc.DocumentType,
	})
	if err != nil {
		return err
	}
	return d.publish(ctx, job, doc.ID, payload)
}

// publish sends payload on the topic registered for the job's stage.
func (d *Dispatcher) publish(ctx context.Context, job *types.Job, documentID uuid.UUID, payload []byte) error {
	topic, err := stages.TopicFor(job.Kind)
	if err != nil {
		return err
	}
	if err := d.queue.Publish(ctx, topic, payload); err != nil {
		return &EnqueueError{JobID: job.ID, DocumentID: documentID, Topic: topic, Cause: err}
	}
	return nil
}

func (d *Dispatcher) failDispatch(ctx context.Context, job *types.Job, cause error) (*types.Job, error) {
	d.log.Error("dispatch failed", "job_id", job.ID, "error", cause)
	failed, err := d.jobs.MarkFailed(ctx, job.ID, cause.Error())
	if err != nil {
		d.log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		failed = job
	}
	if err := d.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusFailed); err != nil {
		d.log.Warn("failed to mark subject failed", "subject_id", job.SubjectID, "error", err)
	}
	return failed, cause
}
