package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu        sync.RWMutex
	subjects  map[uuid.UUID]*types.Subject
	documents map[uuid.UUID]*types.Document
	seq       map[uuid.UUID]int
	next      int
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		subjects:  make(map[uuid.UUID]*types.Subject),
		documents: make(map[uuid.UUID]*types.Document),
		seq:       make(map[uuid.UUID]int),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) CreateSubject(_ context.Context, name, kind string) (*types.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	s := &types.Subject{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		Status:    types.SubjectStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.subjects[s.ID] = s
	out := *s
	return &out, nil
}

func (r *MemoryRepository) GetSubject(_ context.Context, id uuid.UUID) (*types.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subjects[id]
	if !ok {
		return nil, &NotFoundError{Entity: "subject", ID: id}
	}
	out := *s
	return &out, nil
}

func (r *MemoryRepository) UpdateSubjectStatus(_ context.Context, id uuid.UUID, status types.SubjectStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subjects[id]
	if !ok {
		return &NotFoundError{Entity: "subject", ID: id}
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) CreateDocument(_ context.Context, doc *types.Document) (*types.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subjects[doc.SubjectID]; !ok {
		return nil, &NotFoundError{Entity: "subject", ID: doc.SubjectID}
	}
	stored := *doc
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.next++
	r.seq[stored.ID] = r.next
	r.documents[stored.ID] = &stored
	return copyDocument(&stored), nil
}

func (r *MemoryRepository) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.documents[id]
	if !ok {
		return nil, &NotFoundError{Entity: "document", ID: id}
	}
	return copyDocument(d), nil
}

func (r *MemoryRepository) ListDocuments(_ context.Context, subjectID uuid.UUID) ([]*types.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Document
	for _, d := range r.documents {
		if d.SubjectID == subjectID {
			out = append(out, copyDocument(d))
		}
	}
	sort.Slice(out, func(i, k int) bool { return r.seq[out[i].ID] < r.seq[out[k].ID] })
	return out, nil
}

func (r *MemoryRepository) SaveAnalysis(_ context.Context, id uuid.UUID, analysis types.DocumentAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return &NotFoundError{Entity: "document", ID: id}
	}
	now := time.Now().UTC()
	a := analysis
	d.AnalysisResult = &a
	d.AnalyzedAt = &now
	return nil
}

func copyDocument(d *types.Document) *types.Document {
	out := *d
	if d.AnalysisResult != nil {
		a := *d.AnalysisResult
		out.AnalysisResult = &a
	}
	if d.AnalyzedAt != nil {
		t := *d.AnalyzedAt
		out.AnalyzedAt = &t
	}
	return &out
}
