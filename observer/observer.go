// Package observer wakes worker loops as soon as new ready work appears.
//
// An Observer subscribes to a job.Watcher for one job type and fires the
// loop's trigger whenever a job of that type becomes ready, so the loop
// does not have to wait for its poll interval. Stores without a native
// change feed are observed through a PollingWatcher.
package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol/job"
)

// DefaultRetry is the delay before resubscribing after a broken feed.
const DefaultRetry = 5 * time.Second

// Triggerer requests an immediate claim pass for a job type.
// worker.Pool satisfies this interface.
type Triggerer interface {
	Trigger(jobType string)
}

// Observer binds a job.Watcher feed to a Triggerer for one job type.
type Observer struct {
	watcher job.Watcher
	target  Triggerer
	jobType string
	retry   time.Duration
	logger  *slog.Logger
}

// Option configures an Observer.
type Option func(*Observer)

// WithRetry sets the resubscribe delay.
func WithRetry(d time.Duration) Option {
	return func(o *Observer) { o.retry = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// New creates an Observer for jobType.
func New(watcher job.Watcher, target Triggerer, jobType string, opts ...Option) *Observer {
	o := &Observer{
		watcher: watcher,
		target:  target,
		jobType: jobType,
		retry:   DefaultRetry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Type returns the observed job type.
func (o *Observer) Type() string { return o.jobType }

// Run consumes the change feed until ctx is done. When the feed cannot be
// opened or closes unexpectedly, Run resubscribes after the retry delay.
func (o *Observer) Run(ctx context.Context) error {
	for {
		o.consume(ctx)

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.retry):
		}
	}
}

func (o *Observer) consume(ctx context.Context) {
	changes, err := o.watcher.Watch(ctx, o.jobType)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("observer subscribe failed",
				slog.String("job_type", o.jobType),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	for change := range changes {
		if Ready(change) {
			o.target.Trigger(o.jobType)
		}
	}

	if ctx.Err() == nil {
		o.logger.Warn("observer feed closed, resubscribing",
			slog.String("job_type", o.jobType),
			slog.Duration("retry", o.retry),
		)
	}
}

// Ready reports whether change adds a job to the ready set.
func Ready(change job.Change) bool {
	return change.Status == job.StatusReady
}
