package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// JobStore implements jobs.Store. Every mutation is one UPDATE guarded by its preconditions,
// and metadata changes merge into the stored jsonb instead of replacing it.
type JobStore struct {
	pool *pgxpool.Pool
}

var _ jobs.Store = (*JobStore)(nil)

const jobColumns = `id, subject_id, kind, status, progress_percent, total_units, processed_units,
	stage_metadata, error_message, created_at, started_at, completed_at, updated_at,
	stall_attempts, last_retriggered_at`

// metadataKey is the stage metadata member for the row's kind.
const metadataKey = `(CASE kind WHEN 'RAG_PROCESSING' THEN 'rag_processing' ELSE 'document_analysis' END)`

const activeStatuses = `('PENDING', 'PROCESSING')`

// withUnit is the stage metadata with unit $2 added to completed_units as outcome $3.
const withUnit = `jsonb_set(stage_metadata, ARRAY[` + metadataKey + `, 'completed_units'],
	COALESCE(stage_metadata #> ARRAY[` + metadataKey + `, 'completed_units'], '{}'::jsonb)
	    || jsonb_build_object($2::text, $3::jsonb))`

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var metadataJSON []byte
	if err := row.Scan(&job.ID, &job.SubjectID, &job.Kind, &job.Status, &job.ProgressPercent,
		&job.TotalUnits, &job.ProcessedUnits, &metadataJSON, &job.ErrorMessage, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.UpdatedAt, &job.StallAttempts, &job.LastRetriggeredAt); err != nil {
		return nil, err
	}
	md, err := decodeMetadata(job.Kind, metadataJSON)
	if err != nil {
		return nil, err
	}
	job.StageMetadata = md
	return &job, nil
}

// decodeMetadata unmarshals stored metadata and initializes any collection the JSON omitted.
func decodeMetadata(kind types.JobKind, data []byte) (types.StageMetadata, error) {
	md := types.NewStageMetadata(kind)
	if len(data) == 0 {
		return md, nil
	}
	var stored types.StageMetadata
	if err := json.Unmarshal(data, &stored); err != nil {
		return md, fmt.Errorf("failed to unmarshal stage metadata: %w", err)
	}
	if d := stored.DocumentAnalysis; d != nil && md.DocumentAnalysis != nil {
		if d.CompletedUnits != nil {
			md.DocumentAnalysis.CompletedUnits = d.CompletedUnits
		}
		if d.ChunkProgress != nil {
			md.DocumentAnalysis.ChunkProgress = d.ChunkProgress
		}
		if d.TextExtraction != nil {
			md.DocumentAnalysis.TextExtraction = d.TextExtraction
		}
		md.DocumentAnalysis.LastProcessedDocumentID = d.LastProcessedDocumentID
	}
	if r := stored.RAGProcessing; r != nil && md.RAGProcessing != nil {
		if r.CompletedUnits != nil {
			md.RAGProcessing.CompletedUnits = r.CompletedUnits
		}
		md.RAGProcessing.BrainVersion = r.BrainVersion
		md.RAGProcessing.Sections = r.Sections
		md.RAGProcessing.MissingSections = r.MissingSections
	}
	return md, nil
}

func (s *JobStore) Create(ctx context.Context, subjectID uuid.UUID, kind types.JobKind, totalUnits int) (*types.Job, error) {
	units, err := jobs.ValidateCreate(kind, totalUnits)
	if err != nil {
		return nil, err
	}
	metadataJSON, err := json.Marshal(types.NewStageMetadata(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage metadata: %w", err)
	}

	job, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, subject_id, kind, status, total_units, stage_metadata)
		 VALUES ($1, $2, $3, 'PENDING', $4, $5)
		 RETURNING `+jobColumns,
		uuid.New(), subjectID, kind, units, metadataJSON,
	))
	if err != nil {
		switch code, _ := pgErrorCode(err); code {
		case codeUniqueViolation:
			return nil, &jobs.ConflictError{SubjectID: subjectID, Kind: kind, Cause: err}
		case codeForeignKeyViolation:
			return nil, &jobs.ValidationError{Field: "subject_id", Message: fmt.Sprintf("unknown subject %s", subjectID)}
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	metrics.IncJobTransition(string(kind), string(types.JobStatusPending))
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &jobs.NotFoundError{JobID: id}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*types.Job, error) {
	return s.list(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE subject_id = $1 ORDER BY created_at DESC`,
		subjectID)
}

func (s *JobStore) Latest(ctx context.Context, subjectID uuid.UUID, kind types.JobKind) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE subject_id = $1 AND kind = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		subjectID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &jobs.NotFoundError{SubjectID: subjectID, Kind: kind}
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return job, nil
}

func (s *JobStore) MarkProcessing(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.updateOne(ctx,
		`UPDATE jobs SET status = 'PROCESSING', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+jobColumns,
		id)
	if err != nil {
		return nil, err
	}
	if job != nil {
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusProcessing))
		return job, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == types.JobStatusProcessing {
		return current, nil
	}
	return nil, &jobs.StateError{JobID: id, From: current.Status, Action: "start"}
}

func (s *JobStore) RecordUnitProcessed(ctx context.Context, id uuid.UUID, outcome types.UnitOutcome) (*types.Job, bool, error) {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal unit outcome: %w", err)
	}

	// Column references on the right-hand side see the row before the update.
	job, err := s.updateOne(ctx,
		`UPDATE jobs SET
		     processed_units = processed_units + 1,
		     status = CASE WHEN processed_units + 1 = total_units THEN 'COMPLETED' ELSE 'PROCESSING' END,
		     progress_percent = CASE WHEN processed_units + 1 = total_units THEN 100
		                             ELSE GREATEST(progress_percent, (processed_units + 1) * 100 / total_units) END,
		     started_at = COALESCE(started_at, NOW()),
		     completed_at = CASE WHEN processed_units + 1 = total_units THEN NOW() ELSE completed_at END,
		     stage_metadata = CASE WHEN kind = 'DOCUMENT_ANALYSIS'
		         THEN jsonb_set(`+withUnit+`, '{document_analysis,last_processed_document_id}', to_jsonb($2::text))
		         ELSE `+withUnit+` END,
		     updated_at = NOW()
		 WHERE id = $1
		   AND status IN `+activeStatuses+`
		   AND processed_units < total_units
		   AND NOT COALESCE(stage_metadata #> ARRAY[`+metadataKey+`, 'completed_units'], '{}'::jsonb) ? $2::text
		 RETURNING `+jobColumns,
		id, outcome.UnitID, outcomeJSON)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	metrics.IncUnitProcessed(string(job.Kind), string(outcome.Status))
	if job.Status == types.JobStatusCompleted {
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusCompleted))
	}
	return job, true, nil
}

func (s *JobStore) RecordChunkProgress(ctx context.Context, id uuid.UUID, documentID string, done, total int) error {
	if total <= 0 {
		return nil
	}
	// newDone keeps chunk progress monotonic under out-of-order delivery.
	const newDone = `GREATEST(COALESCE((stage_metadata #>> ARRAY['document_analysis', 'chunk_progress', $2::text, 'done'])::int, 0), $3::int)`
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		     stage_metadata = jsonb_set(stage_metadata, '{document_analysis,chunk_progress}',
		         COALESCE(stage_metadata #> '{document_analysis,chunk_progress}', '{}'::jsonb)
		             || jsonb_build_object($2::text, jsonb_build_object('done', `+newDone+`, 'total', $4::int))),
		     progress_percent = GREATEST(progress_percent,
		         LEAST(99, (processed_units * $4::int + `+newDone+`) * 100 / (total_units * $4::int))),
		     updated_at = NOW()
		 WHERE id = $1
		   AND kind = 'DOCUMENT_ANALYSIS'
		   AND status IN `+activeStatuses+`
		   AND NOT COALESCE(stage_metadata #> '{document_analysis,completed_units}', '{}'::jsonb) ? $2::text`,
		id, documentID, done, total)
	if err != nil {
		return fmt.Errorf("failed to record chunk progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

func (s *JobStore) RecordTextExtraction(ctx context.Context, id uuid.UUID, documentID string, meta types.TextExtractionMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal text extraction metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		     stage_metadata = jsonb_set(stage_metadata, '{document_analysis,text_extraction}',
		         COALESCE(stage_metadata #> '{document_analysis,text_extraction}', '{}'::jsonb)
		             || jsonb_build_object($2::text, $3::jsonb)),
		     updated_at = NOW()
		 WHERE id = $1 AND kind = 'DOCUMENT_ANALYSIS'`,
		id, documentID, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to record text extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

func (s *JobStore) RecordAssembly(ctx context.Context, id uuid.UUID, brainVersion int, sections, missing []string) error {
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("failed to marshal missing sections: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		     stage_metadata = jsonb_set(stage_metadata, '{rag_processing}',
		         COALESCE(stage_metadata -> 'rag_processing', '{}'::jsonb)
		             || jsonb_build_object('brain_version', $2::int, 'sections', $3::jsonb, 'missing_sections', $4::jsonb)),
		     updated_at = NOW()
		 WHERE id = $1 AND kind = 'RAG_PROCESSING'`,
		id, brainVersion, sectionsJSON, missingJSON)
	if err != nil {
		return fmt.Errorf("failed to record assembly: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

// MarkCompleted is for manual or administrative completion; workers complete jobs through
// RecordUnitProcessed.
func (s *JobStore) MarkCompleted(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.updateOne(ctx,
		`UPDATE jobs SET status = 'COMPLETED', progress_percent = 100, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'PROCESSING' AND processed_units = total_units
		 RETURNING `+jobColumns,
		id)
	if err != nil {
		return nil, err
	}
	if job != nil {
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusCompleted))
		return job, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == types.JobStatusCompleted {
		return current, nil
	}
	return nil, &jobs.StateError{JobID: id, From: current.Status, Action: "complete"}
}

func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*types.Job, error) {
	job, err := s.updateOne(ctx,
		`UPDATE jobs SET status = 'FAILED', error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN `+activeStatuses+`
		 RETURNING `+jobColumns,
		id, reason)
	if err != nil {
		return nil, err
	}
	if job != nil {
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusFailed))
		return job, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &jobs.StateError{JobID: id, From: current.Status, Action: "fail"}
}

func (s *JobStore) Retry(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	daJSON, err := json.Marshal(types.NewStageMetadata(types.JobKindDocumentAnalysis))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage metadata: %w", err)
	}
	ragJSON, err := json.Marshal(types.NewStageMetadata(types.JobKindRAGProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage metadata: %w", err)
	}

	job, err := s.updateOne(ctx,
		`UPDATE jobs SET
		     status = 'PENDING', processed_units = 0, progress_percent = 0, error_message = NULL,
		     started_at = NULL, completed_at = NULL, stall_attempts = 0, last_retriggered_at = NULL,
		     stage_metadata = CASE kind WHEN 'RAG_PROCESSING' THEN $3::jsonb ELSE $2::jsonb END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'FAILED'
		 RETURNING `+jobColumns,
		id, daJSON, ragJSON)
	if err != nil {
		if code, _ := pgErrorCode(err); code == codeUniqueViolation {
			return nil, &jobs.ConflictError{Kind: types.JobKindRAGProcessing, Cause: err}
		}
		return nil, err
	}
	if job != nil {
		metrics.IncJobTransition(string(job.Kind), string(types.JobStatusPending))
		return job, nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &jobs.StateError{JobID: id, From: current.Status, Action: "retry"}
}

func (s *JobStore) ListStale(ctx context.Context, q jobs.StaleQuery) ([]*types.Job, error) {
	return s.list(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE (status = 'PROCESSING' AND processed_units = 0 AND started_at < $1)
		    OR (status = 'PENDING' AND created_at < $2)
		 ORDER BY created_at`,
		q.ProcessingBefore, q.PendingBefore)
}

func (s *JobStore) ClaimRetrigger(ctx context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (*types.Job, bool, error) {
	job, err := s.updateOne(ctx,
		`UPDATE jobs SET last_retriggered_at = $2, stall_attempts = stall_attempts + 1, updated_at = NOW()
		 WHERE id = $1
		   AND status IN `+activeStatuses+`
		   AND (last_retriggered_at IS NULL OR last_retriggered_at <= $3)
		 RETURNING `+jobColumns,
		id, now.UTC(), now.Add(-cooldown).UTC())
	if err != nil {
		return nil, false, err
	}
	if job != nil {
		return job, true, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// updateOne runs a guarded UPDATE ... RETURNING. A nil job means the guard matched no row.
func (s *JobStore) updateOne(ctx context.Context, sql string, args ...any) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

func (s *JobStore) list(ctx context.Context, sql string, args ...any) ([]*types.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
