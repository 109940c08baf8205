// Package stages defines the pipeline stages, the queue topic that triggers each one,
// and the stages each depends on.
package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Kind         types.JobKind
	Topic        string
	Dependencies []types.JobKind
}

// StageRegistry holds all stage definitions
var StageRegistry = map[types.JobKind]StageDefinition{
	types.JobKindDocumentAnalysis: {
		Kind:         types.JobKindDocumentAnalysis,
		Topic:        queue.TopicDocumentAnalysis,
		Dependencies: []types.JobKind{},
	},
	types.JobKindRAGProcessing: {
		Kind:         types.JobKindRAGProcessing,
		Topic:        queue.TopicBrainAssembly,
		Dependencies: []types.JobKind{types.JobKindDocumentAnalysis},
	},
}

// DependencyStatus is the state of one dependency of a stage
type DependencyStatus struct {
	Kind   types.JobKind
	Status types.JobStatus // empty when the subject has no job of that kind
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Stage   types.JobKind
	Missing []DependencyStatus
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s is blocked by incomplete stages: %v", e.Stage, e.Missing)
}

// ValidateDependencies checks that the latest job of every stage kind depends on is COMPLETED for the subject
func ValidateDependencies(ctx context.Context, store jobs.Store, subjectID uuid.UUID, kind types.JobKind) error {
	def, ok := StageRegistry[kind]
	if !ok {
		return fmt.Errorf("unknown stage: %s", kind)
	}

	var missing []DependencyStatus
	for _, dep := range def.Dependencies {
		job, err := store.Latest(ctx, subjectID, dep)
		if err != nil {
			var notFound *jobs.NotFoundError
			if errors.As(err, &notFound) {
				missing = append(missing, DependencyStatus{Kind: dep})
				continue
			}
			return fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
		if job.Status != types.JobStatusCompleted {
			missing = append(missing, DependencyStatus{Kind: dep, Status: job.Status})
		}
	}

	if len(missing) > 0 {
		return &DependencyError{Stage: kind, Missing: missing}
	}
	return nil
}

// TopicFor returns the queue topic that triggers work for a stage.
func TopicFor(kind types.JobKind) (string, error) {
	def, ok := StageRegistry[kind]
	if !ok {
		return "", fmt.Errorf("unknown stage: %s", kind)
	}
	return def.Topic, nil
}
