package brain

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// Store persists immutable brain versions.
type Store interface {
	// Save writes a new version. Writing an existing version fails with *VersionConflictError.
	Save(ctx context.Context, b *types.Brain) error
	// Latest returns the highest version for the subject.
	Latest(ctx context.Context, subjectID uuid.UUID) (*types.Brain, error)
	Get(ctx context.Context, subjectID uuid.UUID, version int) (*types.Brain, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	brains map[uuid.UUID][]*types.Brain
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{brains: make(map[uuid.UUID][]*types.Brain)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Save(_ context.Context, b *types.Brain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.brains[b.SubjectID] {
		if existing.Version == b.Version {
			return &VersionConflictError{SubjectID: b.SubjectID, Version: b.Version}
		}
	}
	stored := *b
	s.brains[b.SubjectID] = append(s.brains[b.SubjectID], &stored)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, subjectID uuid.UUID) (*types.Brain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *types.Brain
	for _, b := range s.brains[subjectID] {
		if latest == nil || b.Version > latest.Version {
			latest = b
		}
	}
	if latest == nil {
		return nil, &NotFoundError{SubjectID: subjectID}
	}
	out := *latest
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, subjectID uuid.UUID, version int) (*types.Brain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.brains[subjectID] {
		if b.Version == version {
			out := *b
			return &out, nil
		}
	}
	return nil, &NotFoundError{SubjectID: subjectID, Version: version}
}

// Versions returns how many versions the subject has. Tests use it to check no version was written.
func (s *MemoryStore) Versions(subjectID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.brains[subjectID])
}
