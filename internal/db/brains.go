package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// BrainStore implements brain.Store. Rows are never updated; each assembly inserts a new version.
type BrainStore struct {
	pool *pgxpool.Pool
}

var _ brain.Store = (*BrainStore)(nil)

const brainColumns = `subject_id, version, assembled_at, sections, scoring_config, content_hash, source_document_ids`

func (s *BrainStore) Save(ctx context.Context, b *types.Brain) error {
	sectionsJSON, err := json.Marshal(b.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal brain sections: %w", err)
	}
	var scoringJSON []byte
	if b.ScoringConfig != nil {
		scoringJSON, err = json.Marshal(b.ScoringConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal scoring config: %w", err)
		}
	}
	sources := b.SourceDocumentIDs
	if sources == nil {
		sources = []uuid.UUID{}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO brains (`+brainColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.SubjectID, b.Version, b.AssembledAt, sectionsJSON, scoringJSON, b.ContentHash, sources)
	if err != nil {
		if code, _ := pgErrorCode(err); code == codeUniqueViolation {
			return &brain.VersionConflictError{SubjectID: b.SubjectID, Version: b.Version}
		}
		return fmt.Errorf("failed to save brain: %w", err)
	}
	return nil
}

func (s *BrainStore) Latest(ctx context.Context, subjectID uuid.UUID) (*types.Brain, error) {
	b, err := scanBrain(s.pool.QueryRow(ctx,
		`SELECT `+brainColumns+` FROM brains WHERE subject_id = $1 ORDER BY version DESC LIMIT 1`,
		subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &brain.NotFoundError{SubjectID: subjectID}
		}
		return nil, fmt.Errorf("failed to get latest brain: %w", err)
	}
	return b, nil
}

func (s *BrainStore) Get(ctx context.Context, subjectID uuid.UUID, version int) (*types.Brain, error) {
	b, err := scanBrain(s.pool.QueryRow(ctx,
		`SELECT `+brainColumns+` FROM brains WHERE subject_id = $1 AND version = $2`,
		subjectID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &brain.NotFoundError{SubjectID: subjectID, Version: version}
		}
		return nil, fmt.Errorf("failed to get brain: %w", err)
	}
	return b, nil
}

func scanBrain(row pgx.Row) (*types.Brain, error) {
	var b types.Brain
	var sectionsJSON, scoringJSON []byte
	if err := row.Scan(&b.SubjectID, &b.Version, &b.AssembledAt, &sectionsJSON, &scoringJSON,
		&b.ContentHash, &b.SourceDocumentIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sectionsJSON, &b.Sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal brain sections: %w", err)
	}
	if scoringJSON != nil {
		var cfg types.ScoringConfig
		if err := json.Unmarshal(scoringJSON, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scoring config: %w", err)
		}
		b.ScoringConfig = &cfg
	}
	return &b, nil
}
