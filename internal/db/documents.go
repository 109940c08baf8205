package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// DocumentRepository implements documents.Repository.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

var _ documents.Repository = (*DocumentRepository)(nil)

const subjectColumns = `id, name, kind, status, created_at, updated_at`

const documentColumns = `id, subject_id, document_type, storage_key, file_name, content_type,
	analysis_result, created_at, analyzed_at`

func (r *DocumentRepository) CreateSubject(ctx context.Context, name, kind string) (*types.Subject, error) {
	var s types.Subject
	err := r.pool.QueryRow(ctx,
		`INSERT INTO subjects (id, name, kind, status)
		 VALUES ($1, $2, $3, 'draft')
		 RETURNING `+subjectColumns,
		uuid.New(), name, kind,
	).Scan(&s.ID, &s.Name, &s.Kind, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}
	return &s, nil
}

func (r *DocumentRepository) GetSubject(ctx context.Context, id uuid.UUID) (*types.Subject, error) {
	var s types.Subject
	err := r.pool.QueryRow(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Name, &s.Kind, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &documents.NotFoundError{Entity: "subject", ID: id}
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return &s, nil
}

func (r *DocumentRepository) UpdateSubjectStatus(ctx context.Context, id uuid.UUID, status types.SubjectStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subjects SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update subject status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &documents.NotFoundError{Entity: "subject", ID: id}
	}
	return nil
}

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *types.Document) (*types.Document, error) {
	id := doc.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	out, err := scanDocument(r.pool.QueryRow(ctx,
		`INSERT INTO documents (id, subject_id, document_type, storage_key, file_name, content_type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+documentColumns,
		id, doc.SubjectID, doc.DocumentType, doc.StorageKey, doc.FileName, doc.ContentType,
	))
	if err != nil {
		if code, _ := pgErrorCode(err); code == codeForeignKeyViolation {
			return nil, &documents.NotFoundError{Entity: "subject", ID: doc.SubjectID}
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &documents.NotFoundError{Entity: "document", ID: id}
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListDocuments(ctx context.Context, subjectID uuid.UUID) ([]*types.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE subject_id = $1 ORDER BY seq`,
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *DocumentRepository) SaveAnalysis(ctx context.Context, id uuid.UUID, analysis types.DocumentAnalysis) error {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE documents SET analysis_result = $2, analyzed_at = NOW() WHERE id = $1`,
		id, analysisJSON)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &documents.NotFoundError{Entity: "document", ID: id}
	}
	return nil
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	var doc types.Document
	var analysisJSON []byte
	if err := row.Scan(&doc.ID, &doc.SubjectID, &doc.DocumentType, &doc.StorageKey, &doc.FileName,
		&doc.ContentType, &analysisJSON, &doc.CreatedAt, &doc.AnalyzedAt); err != nil {
		return nil, err
	}
	if analysisJSON != nil {
		var a types.DocumentAnalysis
		if err := json.Unmarshal(analysisJSON, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
		doc.AnalysisResult = &a
	}
	return &doc, nil
}
