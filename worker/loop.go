package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Defaults applied to a Registration that leaves a field zero.
const (
	DefaultPollInterval = time.Minute
	DefaultWorkTimeout  = time.Minute
	DefaultConcurrency  = 1
)

// Loop processes jobs of a single type. Each pass promotes due pending
// jobs, reclaims jobs abandoned by crashed workers, then claims ready jobs
// while concurrency slots are free. Passes run on the poll interval and
// whenever the loop's Trigger fires.
type Loop struct {
	reg        job.Registration
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	logger     *slog.Logger
	trigger    *Trigger
	sem        *semaphore.Weighted

	inflight sync.WaitGroup

	// jobCtx is the parent of every handler context. It outlives the
	// Run context so in-flight handlers can finish during shutdown.
	activeMu   sync.Mutex
	jobCtx     context.Context
	cancelJobs context.CancelFunc
	activeJobs map[string]context.CancelFunc
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithWakeInterval sets the minimum spacing between triggered passes.
func WithWakeInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.trigger = NewTrigger(d) }
}

// NewLoop creates a Loop for reg.Type. Zero fields of reg are replaced by
// DefaultPollInterval, DefaultWorkTimeout and DefaultConcurrency.
func NewLoop(
	reg job.Registration,
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...LoopOption,
) *Loop {
	if reg.PollInterval <= 0 {
		reg.PollInterval = DefaultPollInterval
	}
	if reg.WorkTimeout <= 0 {
		reg.WorkTimeout = DefaultWorkTimeout
	}
	if reg.Concurrency <= 0 {
		reg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		reg:        reg,
		store:      store,
		executor:   executor,
		extensions: extensions,
		logger:     logger,
		trigger:    NewTrigger(0),
		sem:        semaphore.NewWeighted(int64(reg.Concurrency)),
		jobCtx:     jobCtx,
		cancelJobs: cancel,
		activeJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Type returns the job type this loop processes.
func (l *Loop) Type() string { return l.reg.Type }

// Registration returns the resolved registration.
func (l *Loop) Registration() job.Registration { return l.reg }

// Trigger requests an immediate pass. Bursts coalesce into one pass.
func (l *Loop) Trigger() { l.trigger.Fire() }

// Run executes passes until ctx is done, then waits for in-flight handlers
// to return. Handlers are not cancelled by ctx; use CancelActive.
func (l *Loop) Run(ctx context.Context) error {
	l.activeMu.Lock()
	if l.jobCtx.Err() != nil {
		l.jobCtx, l.cancelJobs = context.WithCancel(context.Background())
	}
	l.activeMu.Unlock()

	ticker := time.NewTicker(l.reg.PollInterval)
	defer ticker.Stop()

	l.logger.Debug("worker loop started",
		slog.String("job_type", l.reg.Type),
		slog.Duration("poll_interval", l.reg.PollInterval),
		slog.Int("concurrency", l.reg.Concurrency),
	)

	l.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			l.inflight.Wait()
			l.logger.Debug("worker loop stopped", slog.String("job_type", l.reg.Type))
			return nil
		case <-ticker.C:
			l.runPass(ctx)
		case <-l.trigger.C():
			if err := l.trigger.Pace(ctx); err != nil {
				continue
			}
			l.runPass(ctx)
		}
	}
}

// Wait blocks until every handler started by this loop has returned.
func (l *Loop) Wait() { l.inflight.Wait() }

// CancelActive cancels the contexts of all running handlers.
func (l *Loop) CancelActive() {
	l.activeMu.Lock()
	for jobID := range l.activeJobs {
		l.logger.Warn("cancelling active job",
			slog.String("job_id", jobID),
			slog.String("job_type", l.reg.Type),
		)
	}
	l.cancelJobs()
	l.activeMu.Unlock()
}

func (l *Loop) runPass(ctx context.Context) {
	if _, err := l.Pass(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error("worker pass failed",
			slog.String("job_type", l.reg.Type),
			slog.String("error", err.Error()),
		)
	}
}

// Pass runs one promote/reclaim/claim cycle and returns the number of jobs
// handed to the executor. Handlers run asynchronously; use Wait to block
// until they finish.
func (l *Loop) Pass(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	if _, err := l.store.Promote(ctx, l.reg.Type, now); err != nil {
		return 0, err
	}

	reclaimed, err := l.store.Reclaim(ctx, l.reg.Type, now.Add(-l.reg.WorkTimeout))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		l.logger.Warn("reclaimed abandoned jobs",
			slog.String("job_type", l.reg.Type),
			slog.Int64("count", reclaimed),
		)
		l.extensions.EmitJobsReclaimed(ctx, l.reg.Type, reclaimed)
	}

	claimed := 0
	for l.sem.TryAcquire(1) {
		// Every claim gets its own token, so an attempt that outlived its
		// work timeout cannot finalize the attempt that reclaimed the job.
		j, claimErr := l.store.Claim(ctx, job.ClaimQuery{
			Type:     l.reg.Type,
			Now:      time.Now().UTC(),
			WorkerID: id.NewWorkerID(),
		})
		if claimErr != nil {
			l.sem.Release(1)
			return claimed, claimErr
		}
		if j == nil {
			l.sem.Release(1)
			break
		}
		claimed++
		l.extensions.EmitJobClaimed(ctx, j)
		l.dispatch(j)
	}
	return claimed, nil
}

func (l *Loop) dispatch(j *job.Job) {
	l.activeMu.Lock()
	ctx, cancel := context.WithCancel(l.jobCtx)
	l.activeJobs[j.ID.String()] = cancel
	l.activeMu.Unlock()
	l.inflight.Add(1)

	go func() {
		defer l.inflight.Done()
		defer l.sem.Release(1)
		defer cancel()
		defer l.untrackJob(j.ID.String())

		if err := l.executor.Execute(ctx, l.reg, j); err != nil {
			l.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", err.Error()),
			)
		}

		// A slot just freed up; look for more ready work.
		l.trigger.Fire()
	}()
}

func (l *Loop) untrackJob(jobID string) {
	l.activeMu.Lock()
	delete(l.activeJobs, jobID)
	l.activeMu.Unlock()
}
