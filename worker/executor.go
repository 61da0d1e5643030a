// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and finalizes the
// outcome, a Loop per job type that claims ready jobs, and a Pool that
// manages the loops' lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/job"
	"github.com/xraph/jobcontrol/middleware"
)

// Successor schedules the next occurrence of a completed recurring job.
// cron.Scheduler satisfies this interface.
type Successor interface {
	Successor(ctx context.Context, done *job.Job) (*job.Job, error)
}

// Executor runs a single job through middleware and the registered handler,
// then records the outcome: completion (and the next occurrence of a
// recurring job), a retry with backoff, or terminal failure.
type Executor struct {
	store      job.Store
	extensions *ext.Registry
	scheduler  Successor
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. scheduler
// may be nil when no recurring jobs are used.
func NewExecutor(
	store job.Store,
	extensions *ext.Registry,
	scheduler Successor,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		store:      store,
		extensions: extensions,
		scheduler:  scheduler,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed job with reg's handler. The attempt is bounded
// by reg.WorkTimeout. The returned error is the handler's error, or a
// store error if the outcome could not be recorded.
func (e *Executor) Execute(ctx context.Context, reg job.Registration, j *job.Job) error {
	if reg.Handler == nil {
		return fmt.Errorf("%w: %q", jobcontrol.ErrNoHandler, j.Type)
	}

	var result job.Result
	terminal := func(ctx context.Context) error {
		r, err := reg.Handler(ctx, j)
		result = r
		return err
	}

	start := time.Now()
	chain := middleware.Chain(e.mw, middleware.Timeout(reg.WorkTimeout, e.logger))
	err := chain(ctx, j, terminal)
	elapsed := time.Since(start)

	// The outcome must be recorded even if the pool is shutting down.
	fctx := context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(fctx, j, err)
	}
	return e.handleSuccess(fctx, j, result, elapsed)
}

// handleSuccess marks the job completed and schedules its successor.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result job.Result, elapsed time.Duration) error {
	err := e.store.UpdateStatus(ctx, j.ID, job.Transition{
		From:       job.StatusRunning,
		To:         job.StatusCompleted,
		WorkerID:   j.WorkerID,
		Result:     result.Message,
		ResultData: result.Data,
	})
	if err != nil {
		return e.finalizeError(j, "completion", err)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.Result = result.Message
	j.ResultData = result.Data
	j.CompletedAt = &now

	e.extensions.EmitJobCompleted(ctx, j, elapsed)

	if j.Recurring() && e.scheduler != nil {
		return e.scheduleSuccessor(ctx, j)
	}
	return nil
}

// Successor insertion is retried a few times before the chain is given up.
const successorAttempts = 3

var successorBackoff = backoff.NewExponential(50*time.Millisecond, time.Second)

// scheduleSuccessor inserts the next occurrence of a completed recurring
// job. When every attempt fails the chain stops until the template is
// installed again.
func (e *Executor) scheduleSuccessor(ctx context.Context, j *job.Job) error {
	var err error
	for attempt := 1; attempt <= successorAttempts; attempt++ {
		if _, err = e.scheduler.Successor(ctx, j); err == nil {
			return nil
		}
		if attempt == successorAttempts {
			break
		}
		e.logger.Warn("retrying next occurrence",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(successorBackoff.Delay(attempt)):
		}
	}
	e.logger.Error("failed to schedule next occurrence",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("error", err.Error()),
	)
	return err
}

// handleFailure either schedules a retry or fails the job terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	if job.IsPermanent(handlerErr) || backoff.Exhausted(j.RetryCount, j.Retry) {
		return e.fail(ctx, j, handlerErr)
	}
	return e.scheduleRetry(ctx, j, handlerErr)
}

// scheduleRetry returns the job to ready with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error) error {
	delay := backoff.NextDelay(j.RetryCount, j.Retry)
	nextRunAt := time.Now().UTC().Add(delay)

	err := e.store.UpdateStatus(ctx, j.ID, job.Transition{
		From:           job.StatusRunning,
		To:             job.StatusReady,
		WorkerID:       j.WorkerID,
		LastError:      handlerErr.Error(),
		IncrementRetry: true,
		RunAt:          nextRunAt,
	})
	if err != nil {
		return e.finalizeError(j, "retry", err)
	}

	j.Status = job.StatusReady
	j.RetryCount++
	j.LastError = handlerErr.Error()
	j.RunAt = nextRunAt

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.Retry.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %w", j.Type, j.RetryCount, j.Retry.MaxRetries, handlerErr)
}

// fail marks the job failed. The failure is logged and reported to
// extensions; it is never re-raised to the caller as a store problem.
func (e *Executor) fail(ctx context.Context, j *job.Job, handlerErr error) error {
	err := e.store.UpdateStatus(ctx, j.ID, job.Transition{
		From:      job.StatusRunning,
		To:        job.StatusFailed,
		WorkerID:  j.WorkerID,
		LastError: handlerErr.Error(),
	})
	if err != nil {
		return e.finalizeError(j, "failure", err)
	}

	j.Status = job.StatusFailed
	j.LastError = handlerErr.Error()

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("retry_count", j.RetryCount),
		slog.Bool("permanent", job.IsPermanent(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	if !job.IsPermanent(handlerErr) {
		return fmt.Errorf("job %s: %w: %w", j.Type, jobcontrol.ErrMaxRetriesExceeded, handlerErr)
	}
	return handlerErr
}

// finalizeError logs a failed outcome write. A state mismatch means the
// job was reclaimed by another worker while this attempt ran; its
// outcome is discarded.
func (e *Executor) finalizeError(j *job.Job, outcome string, err error) error {
	if errors.Is(err, jobcontrol.ErrInvalidState) {
		e.logger.Warn("job no longer held by this worker; discarding outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("outcome", outcome),
		)
		return err
	}
	e.logger.Error("failed to record job outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("worker: record %s of %s: %w", outcome, j.ID, err)
}
