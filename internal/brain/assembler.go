// Package brain assembles analyzed documents into versioned knowledge brains.
package brain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/pipeline/stages"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// AssemblyUnitID is the single unit of a RAG_PROCESSING job.
const AssemblyUnitID = "assembly"

// DefaultMandatorySections are the document types a brain cannot be assembled without.
var DefaultMandatorySections = []types.DocumentType{types.DocumentTypeApplicationForm, types.DocumentTypeCriteria}

// Config tunes the assembler.
type Config struct {
	MandatorySections []types.DocumentType
}

// Assembler runs the RAG_PROCESSING stage.
type Assembler struct {
	jobs   jobs.Store
	docs   documents.Repository
	brains Store
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(jobStore jobs.Store, docs documents.Repository, brains Store, cfg Config, log *logger.Logger) *Assembler {
	if cfg.MandatorySections == nil {
		cfg.MandatorySections = DefaultMandatorySections
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Assembler{
		jobs:   jobStore,
		docs:   docs,
		brains: brains,
		cfg:    cfg,
		log:    log.With("component", "assembler"),
		now:    time.Now,
	}
}

// Assemble creates a RAG_PROCESSING job for the subject and runs it. The subject's latest document
// analysis job must be COMPLETED, and only one assembly may be active per subject.
func (a *Assembler) Assemble(ctx context.Context, subjectID uuid.UUID) (*types.Brain, *types.Job, error) {
	if err := stages.ValidateDependencies(ctx, a.jobs, subjectID, types.JobKindRAGProcessing); err != nil {
		var depErr *stages.DependencyError
		if errors.As(err, &depErr) {
			return nil, nil, &NotReadyError{SubjectID: subjectID, Cause: err}
		}
		return nil, nil, err
	}

	job, err := a.jobs.Create(ctx, subjectID, types.JobKindRAGProcessing, jobs.DefaultRAGUnits)
	if err != nil {
		return nil, nil, err
	}
	b, err := a.run(ctx, job)
	return b, job, err
}

// Resume runs an existing RAG_PROCESSING job. A job that already completed returns the latest brain.
func (a *Assembler) Resume(ctx context.Context, jobID uuid.UUID) (*types.Brain, error) {
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind != types.JobKindRAGProcessing {
		return nil, &jobs.ValidationError{Field: "kind", Message: fmt.Sprintf("job %s is %s, not %s", job.ID, job.Kind, types.JobKindRAGProcessing)}
	}
	switch job.Status {
	case types.JobStatusCompleted:
		return a.brains.Latest(ctx, job.SubjectID)
	case types.JobStatusFailed:
		return nil, &jobs.StateError{JobID: job.ID, From: job.Status, Action: "assemble"}
	}
	return a.run(ctx, job)
}

func (a *Assembler) run(ctx context.Context, job *types.Job) (*types.Brain, error) {
	log := a.log.With("job_id", job.ID, "subject_id", job.SubjectID)

	if _, err := a.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return nil, err
	}
	if err := a.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusProcessing); err != nil {
		log.Warn("failed to mark subject processing", "error", err)
	}

	docs, err := a.docs.ListDocuments(ctx, job.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	byType := map[types.DocumentType][]types.DocumentAnalysis{}
	var sourceIDs []uuid.UUID
	for _, d := range docs {
		if d.AnalysisResult == nil {
			continue
		}
		byType[d.DocumentType] = append(byType[d.DocumentType], *d.AnalysisResult)
		sourceIDs = append(sourceIDs, d.ID)
	}

	var missing []string
	for _, required := range a.cfg.MandatorySections {
		if len(byType[required]) == 0 {
			missing = append(missing, string(required))
		}
	}
	if len(missing) > 0 {
		return nil, a.fail(ctx, job, &MissingAnalysisError{SubjectID: job.SubjectID, Sections: missing})
	}

	sections := make(map[string]types.DocumentAnalysis, len(byType))
	for dt, parts := range byType {
		sections[string(dt)] = analysis.Merge(parts...)
	}
	hash, err := ContentHash(sections)
	if err != nil {
		return nil, err
	}

	version := 1
	prior, err := a.brains.Latest(ctx, job.SubjectID)
	if err == nil {
		version = prior.Version + 1
	} else {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load prior brain: %w", err)
		}
	}

	b := &types.Brain{
		SubjectID:         job.SubjectID,
		Version:           version,
		AssembledAt:       a.now().UTC(),
		Sections:          sections,
		ContentHash:       hash,
		SourceDocumentIDs: sourceIDs,
	}
	if criteria, ok := sections[string(types.DocumentTypeCriteria)]; ok {
		b.ScoringConfig = BuildScoringConfig(criteria.Criteria)
	}

	if err := a.brains.Save(ctx, b); err != nil {
		metrics.IncAssembly("error")
		return nil, fmt.Errorf("failed to save brain: %w", err)
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := a.jobs.RecordAssembly(ctx, job.ID, version, names, nil); err != nil {
		log.Warn("failed to record assembly metadata", "error", err)
	}
	if _, _, err := a.jobs.RecordUnitProcessed(ctx, job.ID, types.UnitOutcome{
		UnitID: AssemblyUnitID,
		Status: types.UnitStatusSucceeded,
		Note:   fmt.Sprintf("brain version %d", version),
	}); err != nil {
		return nil, fmt.Errorf("failed to complete assembly job: %w", err)
	}
	if err := a.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusActive); err != nil {
		log.Warn("failed to mark subject active", "error", err)
	}

	metrics.IncAssembly("success")
	log.Info("brain assembled", "version", version, "sections", names, "content_hash", hash)
	return b, nil
}

func (a *Assembler) fail(ctx context.Context, job *types.Job, cause *MissingAnalysisError) error {
	log := a.log.With("job_id", job.ID, "subject_id", job.SubjectID)
	if err := a.jobs.RecordAssembly(ctx, job.ID, 0, nil, cause.Sections); err != nil {
		log.Warn("failed to record missing sections", "error", err)
	}
	if _, err := a.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		log.Error("failed to mark assembly job failed", "error", err)
	}
	if err := a.docs.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusFailed); err != nil {
		log.Warn("failed to mark subject failed", "error", err)
	}
	metrics.IncAssembly("missing_analysis")
	log.Warn("assembly rejected", "missing", cause.Sections)
	return cause
}
