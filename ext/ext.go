// Package ext defines the extension system for jobcontrol.
// Extensions are notified of lifecycle events (job inserted, completed,
// failed, etc.) and can react to them: logging, metrics, auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/jobcontrol/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobInserted is called after a job record is created.
type JobInserted interface {
	OnJobInserted(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a worker takes a ready job.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called after non-terminal jobs of a type are cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, jobType string, count int64) error
}

// JobsReclaimed is called when abandoned running jobs are returned to ready.
type JobsReclaimed interface {
	OnJobsReclaimed(ctx context.Context, jobType string, count int64) error
}

// JobsRemoved is called after stale records are deleted.
type JobsRemoved interface {
	OnJobsRemoved(ctx context.Context, count int64) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RepeatScheduled is called when a completed recurring job gets its
// next occurrence.
type RepeatScheduled interface {
	OnRepeatScheduled(ctx context.Context, prev, next *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
