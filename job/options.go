package job

import (
	"time"

	"github.com/xraph/jobcontrol/backoff"
)

// Options configures a job at enqueue time.
type Options struct {
	// Retry is the retry policy stored with the job.
	Retry backoff.Config

	// RepeatSchedule makes the job recurring.
	RepeatSchedule string

	// CancelRepeats cancels every other non-terminal job of the same type
	// before this one is created.
	CancelRepeats bool

	// RunAt schedules the job for later. Zero means immediately.
	RunAt time.Time

	// RunNow makes a recurring job fire once immediately instead of
	// waiting for the first scheduled occurrence.
	RunNow bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{Retry: backoff.DefaultConfig()}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// NewOptions applies opts over DefaultOptions.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetry sets the retry policy.
func WithRetry(cfg backoff.Config) Option {
	return func(o *Options) {
		o.Retry = cfg
	}
}

// WithMaxRetries sets the maximum number of retries, keeping the rest of
// the policy.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.Retry.MaxRetries = n
	}
}

// WithRepeat makes the job recurring on the given schedule.
func WithRepeat(schedule string) Option {
	return func(o *Options) {
		o.RepeatSchedule = schedule
	}
}

// WithCancelRepeats cancels other non-terminal jobs of the same type when
// this job is created.
func WithCancelRepeats() Option {
	return func(o *Options) {
		o.CancelRepeats = true
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithRunNow fires a recurring job immediately on install.
func WithRunNow() Option {
	return func(o *Options) {
		o.RunNow = true
	}
}

// Build returns a new, unsaved job of jobType carrying data and o. The
// status is ready when RunAt is not after now, pending otherwise.
func (o Options) Build(jobType string, data map[string]any, now time.Time) *Job {
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	status := StatusReady
	if runAt.After(now) {
		status = StatusPending
	}
	return &Job{
		Type:           jobType,
		Status:         status,
		Data:           data,
		Retry:          o.Retry,
		RepeatSchedule: o.RepeatSchedule,
		RepeatID:       o.RepeatSchedule != "",
		CancelRepeats:  o.CancelRepeats,
		RunAt:          runAt,
	}
}
