// Package documents stores subjects and their uploaded documents.
package documents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// Repository persists subjects and documents.
type Repository interface {
	CreateSubject(ctx context.Context, name, kind string) (*types.Subject, error)
	GetSubject(ctx context.Context, id uuid.UUID) (*types.Subject, error)
	UpdateSubjectStatus(ctx context.Context, id uuid.UUID, status types.SubjectStatus) error

	CreateDocument(ctx context.Context, doc *types.Document) (*types.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	// ListDocuments returns the subject's documents, oldest first.
	ListDocuments(ctx context.Context, subjectID uuid.UUID) ([]*types.Document, error)
	// SaveAnalysis stores the analysis result and stamps AnalyzedAt. Saving again overwrites.
	SaveAnalysis(ctx context.Context, id uuid.UUID, analysis types.DocumentAnalysis) error
}

// NotFoundError represents a missing subject or document
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}
