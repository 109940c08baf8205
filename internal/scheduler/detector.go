// Package scheduler runs the stall detector that re-triggers jobs which stopped making progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"

	"github.com/jonathan/knowledge-brain/internal/jobs"
	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/metrics"
	"github.com/jonathan/knowledge-brain/internal/types"
)

// ErrAlreadyRunning is returned by Start when the detector is running.
var ErrAlreadyRunning = errors.New("stall detector already running")

// Retriggerer re-invokes the entry point of a stage.
type Retriggerer interface {
	Redispatch(ctx context.Context, job *types.Job) (int, error)
	TriggerAssembly(ctx context.Context, job *types.Job, reason string) error
}

// SubjectUpdater records the subject status that follows a failed job.
type SubjectUpdater interface {
	UpdateSubjectStatus(ctx context.Context, id uuid.UUID, status types.SubjectStatus) error
}

// Config tunes the detector.
type Config struct {
	Interval time.Duration
	// ProcessingStaleAfter is how long a PROCESSING job may go without its first processed unit.
	ProcessingStaleAfter time.Duration
	// PendingStaleAfter is how long a job may stay PENDING.
	PendingStaleAfter time.Duration
	// Cooldown is the minimum time between two re-triggers of the same job.
	Cooldown time.Duration
	// MaxAttempts is how many re-triggers a job gets before it is failed.
	MaxAttempts int
}

// DefaultConfig returns the production detector configuration.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Second,
		ProcessingStaleAfter: 5 * time.Minute,
		PendingStaleAfter:    2 * time.Minute,
		Cooldown:             5 * time.Minute,
		MaxAttempts:          3,
	}
}

// Freshness classifies a job by how long it has gone without progress.
type Freshness string

// Freshness values
const (
	Fresh           Freshness = "fresh"
	StalePending    Freshness = "stale-pending"
	StaleProcessing Freshness = "stale-processing"
)

// Classify derives a job's freshness from elapsed time. It is never stored.
func (c Config) Classify(job *types.Job, now time.Time) Freshness {
	q := c.query(now)
	if !q.Matches(job) {
		return Fresh
	}
	if job.Status == types.JobStatusPending {
		return StalePending
	}
	return StaleProcessing
}

func (c Config) query(now time.Time) jobs.StaleQuery {
	return jobs.StaleQuery{
		ProcessingBefore: now.Add(-c.ProcessingStaleAfter),
		PendingBefore:    now.Add(-c.PendingStaleAfter),
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Candidates  int
	Retriggered int
	Failed      int
	Skipped     int
	Errors      int
}

// Detector periodically sweeps for stalled jobs. It is started and stopped by its owner.
type Detector struct {
	jobs      jobs.Store
	subjects  SubjectUpdater
	retrigger Retriggerer
	cfg       Config
	log       *logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDetector creates a stopped Detector. subjects may be nil.
func NewDetector(jobStore jobs.Store, subjects SubjectUpdater, retrigger Retriggerer, cfg Config, log *logger.Logger) *Detector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProcessingStaleAfter <= 0 {
		cfg.ProcessingStaleAfter = def.ProcessingStaleAfter
	}
	if cfg.PendingStaleAfter <= 0 {
		cfg.PendingStaleAfter = def.PendingStaleAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{
		jobs:      jobStore,
		subjects:  subjects,
		retrigger: retrigger,
		cfg:       cfg,
		log:       log.With("component", "stall_detector"),
		now:       time.Now,
	}
}

// Start launches the sweep loop. It returns ErrAlreadyRunning if the loop is already running.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done

	ticker := jitterbug.New(d.cfg.Interval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	go func() {
		defer close(done)
		defer ticker.Stop()
		d.log.Info("stall detector started", "interval", d.cfg.Interval)
		for {
			select {
			case <-loopCtx.Done():
				d.log.Info("stall detector stopped")
				return
			case <-ticker.C:
			}
			if _, err := d.Sweep(loopCtx, d.now()); err != nil && loopCtx.Err() == nil {
				d.log.Error("sweep failed", "error", err)
			}
		}
	}()
	return nil
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish. Stopping a stopped detector is a no-op.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the sweep loop is running.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Sweep finds stalled jobs and re-triggers each at most once per cool-down window.
// Jobs that already used MaxAttempts re-triggers are failed once their last cool-down has elapsed.
func (d *Detector) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	stale, err := d.jobs.ListStale(ctx, d.cfg.query(now))
	if err != nil {
		return res, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	res.Candidates = len(stale)

	for _, job := range stale {
		log := d.log.With("job_id", job.ID, "kind", job.Kind, "freshness", d.cfg.Classify(job, now), "attempts", job.StallAttempts)

		if job.StallAttempts >= d.cfg.MaxAttempts {
			if !jobs.CanRetrigger(job, now, d.cfg.Cooldown) {
				res.Skipped++
				continue
			}
			reason := fmt.Sprintf("stalled: no progress after %d recovery attempts", job.StallAttempts)
			if _, err := d.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
				var stateErr *jobs.StateError
				if errors.As(err, &stateErr) {
					res.Skipped++
					continue
				}
				log.Error("failed to fail exhausted job", "error", err)
				res.Errors++
				continue
			}
			metrics.IncStallAction(string(job.Kind), "exhausted")
			log.Warn("stalled job failed", "reason", reason)
			if d.subjects != nil {
				if err := d.subjects.UpdateSubjectStatus(ctx, job.SubjectID, types.SubjectStatusFailed); err != nil {
					log.Warn("failed to mark subject failed", "subject_id", job.SubjectID, "error", err)
				}
			}
			res.Failed++
			continue
		}

		claimed, ok, err := d.jobs.ClaimRetrigger(ctx, job.ID, now, d.cfg.Cooldown)
		if err != nil {
			log.Error("failed to claim re-trigger", "error", err)
			res.Errors++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		if err := d.reinvoke(ctx, claimed); err != nil {
			metrics.IncStallAction(string(job.Kind), "error")
			log.Error("re-trigger failed", "error", err)
			res.Errors++
			continue
		}
		metrics.IncStallAction(string(job.Kind), "retriggered")
		log.Info("stalled job re-triggered", "attempt", claimed.StallAttempts)
		res.Retriggered++
	}
	return res, nil
}

func (d *Detector) reinvoke(ctx context.Context, job *types.Job) error {
	switch job.Kind {
	case types.JobKindDocumentAnalysis:
		_, err := d.retrigger.Redispatch(ctx, job)
		return err
	case types.JobKindRAGProcessing:
		return d.retrigger.TriggerAssembly(ctx, job, "stall recovery")
	}
	return fmt.Errorf("unknown job kind %s", job.Kind)
}
