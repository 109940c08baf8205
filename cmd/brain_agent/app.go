package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jonathan/knowledge-brain/internal/analysis"
	"github.com/jonathan/knowledge-brain/internal/assessment"
	"github.com/jonathan/knowledge-brain/internal/brain"
	"github.com/jonathan/knowledge-brain/internal/config"
	"github.com/jonathan/knowledge-brain/internal/db"
	"github.com/jonathan/knowledge-brain/internal/documents"
	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/llm"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/pipeline"
	"github.com/jonathan/knowledge-brain/internal/queue"
	"github.com/jonathan/knowledge-brain/internal/scheduler"
	"github.com/jonathan/knowledge-brain/internal/server"
	"github.com/jonathan/knowledge-brain/internal/server/ratelimit"
	"github.com/jonathan/knowledge-brain/internal/storage"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// app holds the wired components for one process.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db      *db.DB // nil in memory mode
	jobs    jobs.Store
	docs    documents.Repository
	brains  brain.Store
	storage storage.Storage
	queue   queue.Queue
	llm     llm.Client // nil unless requested

	dispatcher *pipeline.Dispatcher
	assembler  *brain.Assembler
}

type appOptions struct {
	// withLLM connects the AI collaborator; analysis and assessment need it.
	withLLM bool
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig reads configuration and builds the process logger.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// newApp connects the configured backends. An empty database URL keeps state in memory and an empty
// Redis address uses the in-process queue, which only makes sense when API, worker and detector share
// one process.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.db = database
		a.jobs, a.docs, a.brains = database.Jobs(), database.Documents(), database.Brains()
	} else {
		log.Warn("database.url not set; job, document and brain state is kept in memory")
		a.jobs, a.docs, a.brains = jobs.NewMemoryStore(), documents.NewMemoryRepository(), brain.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		q, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			Group:         cfg.Redis.Group,
			ClaimIdle:     cfg.Redis.ClaimIdle,
			Block:         cfg.Redis.Block,
			MaxDeliveries: cfg.Redis.MaxDeliveries,
		}, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to queue: %w", err)
		}
		a.queue = q
	} else {
		log.Warn("redis.addr not set; using the in-process queue")
		a.queue = queue.NewMemoryQueue()
	}

	store, err := storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	a.storage = store

	if opts.withLLM {
		client, err := newLLMClient(ctx, cfg.LLM)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.llm = client
	}

	a.dispatcher = pipeline.NewDispatcher(a.jobs, a.docs, a.queue, log)
	a.assembler = brain.NewAssembler(a.jobs, a.docs, a.brains, brain.Config{
		MandatorySections: mandatorySections(cfg.Assembly.MandatorySections),
	}, log)
	return a, nil
}

func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is required (set BRAIN_LLM_API_KEY, GEMINI_API_KEY or OPENAI_API_KEY)")
	}

	provider, err := llm.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	llmCfg, err := llm.ForProvider(provider)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL != "" {
		llmCfg.BaseURL = cfg.BaseURL
	}
	llmCfg = llmCfg.Override(map[llm.ModelTier]string{
		llm.TierLite:     cfg.ModelLite,
		llm.TierStandard: cfg.ModelStandard,
		llm.TierAdvanced: cfg.ModelAdvanced,
	})

	client, err := llm.NewClient(ctx, llmCfg, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

func (a *app) retryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:     a.cfg.LLM.MaxAttempts,
		InitialInterval: a.cfg.LLM.InitialInterval,
		MaxInterval:     a.cfg.LLM.MaxInterval,
		CallTimeout:     a.cfg.LLM.CallTimeout,
	}
}

func (a *app) newWorker() *pipeline.Worker {
	analyzer := analysis.NewAnalyzer(a.llm, analysis.Config{
		MaxChunkChars: a.cfg.Analysis.MaxChunkChars,
		Tier:          llm.TierStandard,
		Retry:         a.retryPolicy(),
	}, a.log)
	return pipeline.NewWorker(a.jobs, a.docs, a.storage, analyzer, a.assembler, a.dispatcher, a.queue, pipeline.WorkerConfig{
		Concurrency:    a.cfg.Worker.Concurrency,
		StorageTimeout: a.cfg.Worker.StorageTimeout,
		Name:           a.cfg.Worker.Name,
	}, a.log)
}

func (a *app) newDetector() *scheduler.Detector {
	return scheduler.NewDetector(a.jobs, a.docs, a.dispatcher, scheduler.Config{
		Interval:             a.cfg.Stall.Interval,
		ProcessingStaleAfter: a.cfg.Stall.ProcessingStaleAfter,
		PendingStaleAfter:    a.cfg.Stall.PendingStaleAfter,
		Cooldown:             a.cfg.Stall.Cooldown,
		MaxAttempts:          a.cfg.Stall.MaxAttempts,
	}, a.log)
}

func (a *app) newServer() *server.Server {
	engine := assessment.NewEngine(a.llm, assessment.Config{Tier: llm.TierAdvanced, Retry: a.retryPolicy()}, a.log)

	checks := map[string]server.Pinger{}
	if a.db != nil {
		checks["database"] = a.db
	}
	if p, ok := a.queue.(server.Pinger); ok {
		checks["queue"] = p
	}

	return server.New(server.Config{
		Port:            a.cfg.Server.Port,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  a.cfg.Server.MaxUploadBytes,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		RateLimit:       ratelimit.FromSettings(a.cfg.Server.RateLimit),
	}, server.Deps{
		Jobs:       a.jobs,
		Documents:  a.docs,
		Storage:    a.storage,
		Brains:     a.brains,
		Dispatcher: a.dispatcher,
		Assembler:  a.assembler,
		Assessor:   engine,
		Checks:     checks,
	}, a.log)
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.log.Warn("failed to close LLM client", "error", err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Warn("failed to close queue", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	a.log.Sync()
}

func mandatorySections(names []string) []types.DocumentType {
	if len(names) == 0 {
		return nil
	}
	out := make([]types.DocumentType, 0, len(names))
	for _, n := range names {
		out = append(out, types.DocumentType(n))
	}
	return out
}
