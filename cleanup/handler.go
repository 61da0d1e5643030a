// Package cleanup removes stale jobs: terminal jobs that have not been
// touched for longer than a retention window. It runs as an ordinary
// recurring job of type JobType, installed once the host signals that the
// job system is ready.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Result messages.
const (
	msgRemoved    = "Removed %d stale jobs"
	msgNoEligible = "No eligible jobs to cleanup"
)

// Emitter receives the number of removed jobs. ext.Registry satisfies it.
type Emitter interface {
	EmitJobsRemoved(ctx context.Context, count int64)
}

// Handler is the cleanup job body.
type Handler struct {
	store   job.Store
	cfg     Config
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithEmitter sets the receiver of removal events.
func WithEmitter(e Emitter) Option {
	return func(h *Handler) { h.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a cleanup handler over store.
func NewHandler(store job.Store, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements job.HandlerFunc. Store errors are returned so the job
// is retried under its retry policy.
func (h *Handler) Handle(ctx context.Context, _ *job.Job) (job.Result, error) {
	h.logger.Debug("processing stale job cleanup", slog.String("job_type", JobType))

	removed, err := h.Run(ctx)
	if err != nil {
		return job.Result{}, err
	}

	msg := msgNoEligible
	if removed > 0 {
		msg = fmt.Sprintf(msgRemoved, removed)
	}
	h.logger.Debug(msg, slog.Int64("removed", removed))
	return job.Result{Message: msg, Data: map[string]any{"removed": removed}}, nil
}

// Run removes every eligible job and returns how many were removed.
func (h *Handler) Run(ctx context.Context) (int64, error) {
	cutoff := h.now().Add(-h.cfg.Retention)

	candidates, err := h.store.Find(ctx, job.Query{
		ExcludeTypes:  h.cfg.ExcludeTypes,
		Statuses:      h.cfg.IncludeStatuses,
		UpdatedBefore: cutoff,
		Fields: []string{
			job.FieldID,
			job.FieldType,
			job.FieldStatus,
			job.FieldUpdatedAt,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup: find stale jobs: %w", err)
	}

	ids := make([]id.JobID, 0, len(candidates))
	for _, j := range candidates {
		if h.eligible(j, cutoff) {
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	removed, err := h.store.RemoveMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("cleanup: remove %d stale jobs: %w", len(ids), err)
	}
	if h.emitter != nil && removed > 0 {
		h.emitter.EmitJobsRemoved(ctx, removed)
	}
	return removed, nil
}

// eligible re-checks the query filters against j. Stores may return a
// superset when a filter cannot be pushed down.
func (h *Handler) eligible(j *job.Job, cutoff time.Time) bool {
	if slices.Contains(h.cfg.ExcludeTypes, j.Type) {
		return false
	}
	if !slices.Contains(h.cfg.IncludeStatuses, j.Status) || !j.Status.IsTerminal() {
		return false
	}
	if !j.UpdatedAt.Before(cutoff) {
		return false
	}
	if h.cfg.Exclude != nil && h.cfg.Exclude(j) {
		return false
	}
	return true
}
