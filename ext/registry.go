package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobInsertedEntry struct {
	name string
	hook JobInserted
}

type jobClaimedEntry struct {
	name string
	hook JobClaimed
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type jobsReclaimedEntry struct {
	name string
	hook JobsReclaimed
}

type jobsRemovedEntry struct {
	name string
	hook JobsRemoved
}

type repeatScheduledEntry struct {
	name string
	hook RepeatScheduled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register every extension before the engine starts; emits are not
// synchronized against concurrent registration.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobInserted     []jobInsertedEntry
	jobClaimed      []jobClaimedEntry
	jobCompleted    []jobCompletedEntry
	jobRetrying     []jobRetryingEntry
	jobFailed       []jobFailedEntry
	jobCancelled    []jobCancelledEntry
	jobsReclaimed   []jobsReclaimedEntry
	jobsRemoved     []jobsRemovedEntry
	repeatScheduled []repeatScheduledEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobInserted); ok {
		r.jobInserted = append(r.jobInserted, jobInsertedEntry{name, h})
	}
	if h, ok := e.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, jobClaimedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(JobsReclaimed); ok {
		r.jobsReclaimed = append(r.jobsReclaimed, jobsReclaimedEntry{name, h})
	}
	if h, ok := e.(JobsRemoved); ok {
		r.jobsRemoved = append(r.jobsRemoved, jobsRemovedEntry{name, h})
	}
	if h, ok := e.(RepeatScheduled); ok {
		r.repeatScheduled = append(r.repeatScheduled, repeatScheduledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobInserted notifies all extensions that implement JobInserted.
func (r *Registry) EmitJobInserted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobInserted {
		if err := e.hook.OnJobInserted(ctx, j); err != nil {
			r.logHookError("OnJobInserted", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all extensions that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, j); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, jobType string, count int64) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, jobType, count); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobsReclaimed notifies all extensions that implement JobsReclaimed.
func (r *Registry) EmitJobsReclaimed(ctx context.Context, jobType string, count int64) {
	for _, e := range r.jobsReclaimed {
		if err := e.hook.OnJobsReclaimed(ctx, jobType, count); err != nil {
			r.logHookError("OnJobsReclaimed", e.name, err)
		}
	}
}

// EmitJobsRemoved notifies all extensions that implement JobsRemoved.
func (r *Registry) EmitJobsRemoved(ctx context.Context, count int64) {
	for _, e := range r.jobsRemoved {
		if err := e.hook.OnJobsRemoved(ctx, count); err != nil {
			r.logHookError("OnJobsRemoved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRepeatScheduled notifies all extensions that implement RepeatScheduled.
func (r *Registry) EmitRepeatScheduled(ctx context.Context, prev, next *job.Job) {
	for _, e := range r.repeatScheduled {
		if err := e.hook.OnRepeatScheduled(ctx, prev, next); err != nil {
			r.logHookError("OnRepeatScheduled", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
