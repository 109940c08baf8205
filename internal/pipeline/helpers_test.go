package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/storage"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// mockAnalyzer is a DocumentAnalyzer whose behavior is set per test.
type mockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, docType types.DocumentType, text string, onProgress analysis.ProgressFunc) (*types.DocumentAnalysis, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, docType types.DocumentType, text string, onProgress analysis.ProgressFunc) (*types.DocumentAnalysis, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, docType, text, onProgress)
	}
	a := analysisFor(docType)
	if onProgress != nil {
		onProgress(1, 1)
	}
	return &a, nil
}

func analysisFor(docType types.DocumentType) types.DocumentAnalysis {
	a := types.EmptyAnalysis()
	a.Title = string(docType)
	if docType == types.DocumentTypeCriteria {
		a.Criteria = []types.Criterion{{Name: "Impact", Weight: 1}}
	}
	return a
}

type env struct {
	jobs       *jobs.MemoryStore
	docs       *documents.MemoryRepository
	storage    *storage.MemoryStorage
	queue      *queue.MemoryQueue
	brains     *brain.MemoryStore
	analyzer   *mockAnalyzer
	dispatcher *Dispatcher
	worker     *Worker
	subject    uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		jobs:     jobs.NewMemoryStore(),
		docs:     documents.NewMemoryRepository(),
		storage:  storage.NewMemoryStorage(),
		queue:    queue.NewMemoryQueue(),
		brains:   brain.NewMemoryStore(),
		analyzer: &mockAnalyzer{},
	}
	assembler := brain.NewAssembler(e.jobs, e.docs, e.brains, brain.Config{}, nil)
	e.dispatcher = NewDispatcher(e.jobs, e.docs, e.queue, nil)
	e.worker = NewWorker(e.jobs, e.docs, e.storage, e.analyzer, assembler, e.dispatcher, e.queue, DefaultWorkerConfig(), nil)

	s, err := e.docs.CreateSubject(context.Background(), "Innovation Fund", "fund")
	require.NoError(t, err)
	e.subject = s.ID
	return e
}

// addDocument stores content in object storage and registers the document.
func (e *env) addDocument(t *testing.T, dt types.DocumentType, content string) *types.Document {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	key := storage.DocumentKey(e.subject, id, string(dt)+".txt")
	_, err := e.storage.Put(ctx, key, []byte(content), "text/plain")
	require.NoError(t, err)
	doc, err := e.docs.CreateDocument(ctx, &types.Document{
		ID:           id,
		SubjectID:    e.subject,
		DocumentType: dt,
		StorageKey:   key,
		FileName:     string(dt) + ".txt",
		ContentType:  "text/plain",
	})
	require.NoError(t, err)
	return doc
}

func (e *env) drainDocuments(t *testing.T) int {
	t.Helper()
	return e.queue.Drain(context.Background(), queue.TopicDocumentAnalysis, e.worker.HandleDocumentMessage, 50,
		queue.OnDeadLetter(e.worker.HandleDocumentDeadLetter))
}
