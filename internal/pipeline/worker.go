package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/ingestion"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/pipeline/stages"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/storage"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// DocumentAnalyzer analyzes the text of one document.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, docType types.DocumentType, text string, onProgress analysis.ProgressFunc) (*types.DocumentAnalysis, error)
}

// AssemblyRunner runs an existing RAG_PROCESSING job.
type AssemblyRunner interface {
	Resume(ctx context.Context, jobID uuid.UUID) (*types.Brain, error)
}

// WorkerConfig tunes the worker.
type WorkerConfig struct {
	// Concurrency is the number of consumers per topic in this process.
	Concurrency    int
	StorageTimeout time.Duration
	// Name prefixes the consumer names registered with the queue.
	Name string
}

// DefaultWorkerConfig returns the production worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{Concurrency: 4, StorageTimeout: 30 * time.Second, Name: "worker"}
}

// Worker consumes document analysis messages and assembly tasks.
type Worker struct {
	jobs       jobs.Store
	docs       documents.Repository
	storage    storage.Storage
	analyzer   DocumentAnalyzer
	assembler  AssemblyRunner
	dispatcher *Dispatcher
	queue      queue.Queue
	cfg        WorkerConfig
	log        *logger.Logger
}

// NewWorker creates a Worker.
func NewWorker(
	jobStore jobs.Store,
	docs documents.Repository,
	store storage.Storage,
	analyzer DocumentAnalyzer,
	assembler AssemblyRunner,
	dispatcher *Dispatcher,
	q queue.Queue,
	cfg WorkerConfig,
	log *logger.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		jobs:       jobStore,
		docs:       docs,
		storage:    store,
		analyzer:   analyzer,
		assembler:  assembler,
		dispatcher: dispatcher,
		queue:      q,
		cfg:        cfg,
		log:        log.With("component", "worker"),
	}
}

// Run consumes both stage topics with cfg.Concurrency consumers each until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	analysisTopic, err := stages.TopicFor(types.JobKindDocumentAnalysis)
	if err != nil {
		return err
	}
	assemblyTopic, err := stages.TopicFor(types.JobKindRAGProcessing)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.cfg.Name, i)
		g.Go(func() error {
			return w.queue.Consume(gctx, analysisTopic, consumer, w.HandleDocumentMessage,
				queue.OnDeadLetter(w.HandleDocumentDeadLetter))
		})
		g.Go(func() error {
			return w.queue.Consume(gctx, assemblyTopic, consumer, w.HandleAssemblyMessage,
				queue.OnDeadLetter(w.HandleAssemblyDeadLetter))
		})
	}
	w.log.Info("worker started", "concurrency", w.cfg.Concurrency)
	err = g.Wait()
	w.log.Info("worker stopped")
	return err
}

// HandleDocumentMessage decodes and handles a document.analysis delivery. Malformed payloads are acknowledged.
func (w *Worker) HandleDocumentMessage(ctx context.Context, m queue.Message) error {
	msg, err := queue.DecodeDocument(m.Payload)
	if err != nil {
		w.log.Error("dropping malformed message", "id", m.ID, "error", err)
		return nil
	}
	return w.HandleDocument(ctx, msg)
}

// HandleAssemblyMessage decodes and handles a brain.assembly delivery. Malformed payloads are acknowledged.
func (w *Worker) HandleAssemblyMessage(ctx context.Context, m queue.Message) error {
	task, err := queue.DecodeAssembly(m.Payload)
	if err != nil {
		w.log.Error("dropping malformed task", "id", m.ID, "error", err)
		return nil
	}
	return w.HandleAssembly(ctx, task)
}

// HandleDocument processes one document of a DOCUMENT_ANALYSIS job. A nil return acknowledges the
// message: it is returned for duplicates, unknown or terminal jobs, successes and permanent
// per-document failures, which are recorded as skipped units. Transient failures return an error
// so the message is redelivered.
func (w *Worker) HandleDocument(ctx context.Context, msg queue.DocumentMessage) error {
	log := w.log.With("job_id", msg.JobID, "document_id", msg.DocumentID)
	unitID := msg.DocumentID.String()

	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		var notFound *jobs.NotFoundError
		if errors.As(err, &notFound) {
			log.Warn("job not found, dropping message")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.IsTerminal() {
		log.Debug("job is terminal, acknowledging", "status", job.Status)
		if job.Status == types.JobStatusCompleted {
			return w.ensureAssembly(ctx, job)
		}
		return nil
	}
	if job.HasCompletedUnit(unitID) {
		log.Debug("duplicate delivery, acknowledging")
		return nil
	}

	if _, err := w.jobs.MarkProcessing(ctx, job.ID); err != nil {
		var stateErr *jobs.StateError
		if errors.As(err, &stateErr) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	doc, err := w.docs.GetDocument(ctx, msg.DocumentID)
	if err != nil {
		var notFound *documents.NotFoundError
		if errors.As(err, &notFound) {
			return w.skip(ctx, job.ID, unitID, "document not found")
		}
		return fmt.Errorf("failed to load document: %w", err)
	}
	key := doc.StorageKey
	if key == "" {
		key = msg.StorageKey
	}

	readCtx, cancel := context.WithTimeout(ctx, w.cfg.StorageTimeout)
	data, err := w.storage.Get(readCtx, key)
	cancel()
	if err != nil {
		if storage.IsPermanent(err) {
			return w.skip(ctx, job.ID, unitID, fmt.Sprintf("storage: %v", err))
		}
		return fmt.Errorf("failed to read document from storage: %w", err)
	}

	extraction, err := ingestion.ExtractText(data, doc.ContentType, doc.FileName)
	if err != nil {
		var unreadable *ingestion.UnreadableError
		if errors.As(err, &unreadable) {
			w.recordExtraction(ctx, job.ID, unitID, types.TextExtractionMetadata{Status: "failed", Error: unreadable.Error()})
			return w.skip(ctx, job.ID, unitID, unreadable.Error())
		}
		return fmt.Errorf("failed to extract text: %w", err)
	}
	w.recordExtraction(ctx, job.ID, unitID, types.TextExtractionMetadata{
		Extractor:  extraction.Extractor,
		Characters: len([]rune(extraction.Text)),
		Status:     "succeeded",
	})

	result, err := w.analyzer.Analyze(ctx, doc.DocumentType, extraction.Text, func(done, total int) {
		if err := w.jobs.RecordChunkProgress(ctx, job.ID, unitID, done, total); err != nil {
			log.Warn("failed to record chunk progress", "done", done, "total", total, "error", err)
		}
	})
	if err != nil {
		var collaborator *analysis.CollaboratorError
		if errors.As(err, &collaborator) {
			return w.skip(ctx, job.ID, unitID, collaborator.Error())
		}
		return fmt.Errorf("analysis failed: %w", err)
	}

	if err := w.docs.SaveAnalysis(ctx, doc.ID, *result); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	outcome := types.UnitOutcome{UnitID: unitID, Status: types.UnitStatusSucceeded}
	if result.Degraded {
		outcome.Note = "degraded: malformed collaborator response"
	}
	log.Info("document analyzed", "document_type", doc.DocumentType, "chunks", result.ChunkCount, "degraded", result.Degraded)
	return w.record(ctx, job.ID, outcome)
}

// HandleAssembly runs the RAG_PROCESSING job named by the task. Rejections that cannot change on
// redelivery are acknowledged; anything else returns an error so the task is redelivered.
func (w *Worker) HandleAssembly(ctx context.Context, task queue.AssemblyTask) error {
	log := w.log.With("job_id", task.JobID, "subject_id", task.SubjectID, "reason", task.Reason)

	_, err := w.assembler.Resume(ctx, task.JobID)
	if err == nil {
		return nil
	}

	var (
		missing    *brain.MissingAnalysisError
		stateErr   *jobs.StateError
		notFound   *jobs.NotFoundError
		validation *jobs.ValidationError
	)
	switch {
	case errors.As(err, &missing):
		log.Warn("assembly rejected", "missing", missing.Sections)
		return nil
	case errors.As(err, &stateErr), errors.As(err, &notFound), errors.As(err, &validation):
		log.Warn("assembly task dropped", "error", err)
		return nil
	}
	return fmt.Errorf("assembly failed: %w", err)
}

// HandleDocumentDeadLetter settles a document message whose deliveries ran out: the document is
// recorded as a skipped unit so its job can still complete. A nil return lets the queue dead-letter it.
func (w *Worker) HandleDocumentDeadLetter(ctx context.Context, m queue.Message, cause error) error {
	msg, err := queue.DecodeDocument(m.Payload)
	if err != nil {
		return nil
	}
	unitID := msg.DocumentID.String()

	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		if isJobNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.IsTerminal() || job.HasCompletedUnit(unitID) {
		return nil
	}
	if _, err := w.jobs.MarkProcessing(ctx, job.ID); err != nil {
		var stateErr *jobs.StateError
		if errors.As(err, &stateErr) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	return w.skip(ctx, job.ID, unitID, fmt.Sprintf("transient retries exhausted: %v", cause))
}

// HandleAssemblyDeadLetter fails the RAG_PROCESSING job of an assembly task whose deliveries ran out.
func (w *Worker) HandleAssemblyDeadLetter(ctx context.Context, m queue.Message, cause error) error {
	task, err := queue.DecodeAssembly(m.Payload)
	if err != nil {
		return nil
	}
	reason := fmt.Sprintf("assembly retries exhausted: %v", cause)
	job, err := w.jobs.MarkFailed(ctx, task.JobID, reason)
	if err != nil {
		var (
			stateErr *jobs.StateError
			notFound *jobs.NotFoundError
		)
		if errors.As(err, &stateErr) || errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to fail assembly job: %w", err)
	}
	if err := w.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusFailed); err != nil {
		w.log.Warn("failed to mark subject failed", "subject_id", job.SubjectID, "error", err)
	}
	w.log.Error("assembly job failed", "job_id", job.ID, "reason", reason)
	return nil
}

func (w *Worker) skip(ctx context.Context, jobID uuid.UUID, unitID, note string) error {
	w.log.Warn("skipping document", "job_id", jobID, "document_id", unitID, "reason", note)
	return w.record(ctx, jobID, types.UnitOutcome{UnitID: unitID, Status: types.UnitStatusSkipped, Note: note})
}

func (w *Worker) record(ctx context.Context, jobID uuid.UUID, outcome types.UnitOutcome) error {
	job, recorded, err := w.jobs.RecordUnitProcessed(ctx, jobID, outcome)
	if err != nil {
		return fmt.Errorf("failed to record unit: %w", err)
	}
	if recorded && job.Status == types.JobStatusCompleted {
		w.log.Info("document analysis complete", "job_id", job.ID, "units", job.TotalUnits, "note", job.PartialSuccessNote())
		return w.ensureAssembly(ctx, job)
	}
	return nil
}

func (w *Worker) recordExtraction(ctx context.Context, jobID uuid.UUID, unitID string, meta types.TextExtractionMetadata) {
	if err := w.jobs.RecordTextExtraction(ctx, jobID, unitID, meta); err != nil {
		w.log.Warn("failed to record text extraction", "job_id", jobID, "document_id", unitID, "error", err)
	}
}

// ensureAssembly creates and triggers the RAG_PROCESSING job that follows a completed analysis job,
// unless one was already created after the analysis completed.
func (w *Worker) ensureAssembly(ctx context.Context, analysisJob *types.Job) error {
	latest, err := w.jobs.Latest(ctx, analysisJob.SubjectID, types.JobKindDocumentAnalysis)
	if err != nil {
		return fmt.Errorf("failed to load latest analysis job: %w", err)
	}
	if latest.ID != analysisJob.ID {
		return nil
	}

	rag, err := w.jobs.Latest(ctx, analysisJob.SubjectID, types.JobKindRAGProcessing)
	switch {
	case err == nil:
		if analysisJob.CompletedAt != nil && !rag.CreatedAt.Before(*analysisJob.CompletedAt) {
			return nil
		}
	case !isJobNotFound(err):
		return fmt.Errorf("failed to load assembly job: %w", err)
	}

	rag, err = w.jobs.Create(ctx, analysisJob.SubjectID, types.JobKindRAGProcessing, jobs.DefaultRAGUnits)
	if err != nil {
		var conflict *jobs.ConflictError
		if errors.As(err, &conflict) {
			w.log.Info("assembly already active", "subject_id", analysisJob.SubjectID)
			return nil
		}
		return fmt.Errorf("failed to create assembly job: %w", err)
	}
	if err := w.dispatcher.TriggerAssembly(ctx, rag, "analysis complete"); err != nil {
		// The PENDING job is re-triggered by the stall detector.
		w.log.Warn("failed to publish assembly task", "job_id", rag.ID, "error", err)
		return nil
	}
	w.log.Info("assembly triggered", "job_id", rag.ID, "subject_id", rag.SubjectID)
	return nil
}

func isJobNotFound(err error) bool {
	var notFound *jobs.NotFoundError
	return errors.As(err, &notFound)
}
