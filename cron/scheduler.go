package cron

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Emitter emits recurrence lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitJobInserted(ctx context.Context, j *job.Job)
	EmitJobCancelled(ctx context.Context, jobType string, count int64)
	EmitRepeatScheduled(ctx context.Context, prev, next *job.Job)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler turns recurrence expressions into fire times and keeps each
// recurring chain alive by inserting the next occurrence when one
// completes.
type Scheduler struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	// parsed caches parsed recurrence expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:   store,
		emitter: emitter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		parsed:  make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the first fire time of expr strictly after t. Schedules are
// evaluated in UTC whatever t's location.
func (s *Scheduler) Next(expr string, t time.Time) (time.Time, error) {
	sched, err := s.getOrParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(t.UTC())
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", jobcontrol.ErrInvalidSchedule, expr)
	}
	return next, nil
}

// Install creates the template occurrence of a recurring job. When
// o.CancelRepeats is set, every other non-terminal job of jobType is
// cancelled first so repeated installs leave a single live chain.
func (s *Scheduler) Install(ctx context.Context, jobType string, data map[string]any, o job.Options) (*job.Job, error) {
	if o.RepeatSchedule == "" {
		return nil, fmt.Errorf("%w: recurring job %q has no schedule", jobcontrol.ErrInvalidSchedule, jobType)
	}
	if err := o.Retry.Validate(); err != nil {
		return nil, err
	}
	now := s.now()

	runAt := now
	if !o.RunNow {
		next, err := s.Next(o.RepeatSchedule, now)
		if err != nil {
			return nil, err
		}
		runAt = next
	}

	if o.CancelRepeats {
		n, err := s.store.CancelActive(ctx, jobType)
		if err != nil {
			return nil, fmt.Errorf("cron: cancel repeats of %q: %w", jobType, err)
		}
		if n > 0 {
			s.logger.Debug("cancelled previous repeats",
				slog.String("job_type", jobType),
				slog.Int64("count", n),
			)
			if s.emitter != nil {
				s.emitter.EmitJobCancelled(ctx, jobType, n)
			}
		}
	}

	o.RunAt = runAt
	j := o.Build(jobType, data, now)
	j.RepeatID = true

	if _, err := s.store.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("cron: install %q: %w", jobType, err)
	}
	if s.emitter != nil {
		s.emitter.EmitJobInserted(ctx, j)
	}

	s.logger.Info("recurring job installed",
		slog.String("job_type", jobType),
		slog.String("job_id", j.ID.String()),
		slog.String("schedule", o.RepeatSchedule),
		slog.Time("run_at", j.RunAt),
	)
	return j, nil
}

// Successor inserts the next occurrence after done has completed. The
// next fire time is computed from done.RunAt; if it is not in the future,
// every missed occurrence collapses into one immediate run. Returns
// (nil, nil) when done is not recurring.
func (s *Scheduler) Successor(ctx context.Context, done *job.Job) (*job.Job, error) {
	if !done.Recurring() {
		return nil, nil //nolint:nilnil // no successor is a valid outcome
	}
	now := s.now()

	base := done.RunAt.UTC()
	if base.IsZero() {
		base = now
	}
	next, err := s.Next(done.RepeatSchedule, base)
	if err != nil {
		return nil, err
	}

	status := job.StatusPending
	if !next.After(now) {
		s.logger.Debug("collapsing missed occurrences",
			slog.String("job_type", done.Type),
			slog.Time("scheduled", next),
		)
		next = now
		status = job.StatusReady
	}

	succ := &job.Job{
		ID:             id.NewJobID(),
		Type:           done.Type,
		Status:         status,
		Data:           maps.Clone(done.Data),
		Retry:          done.Retry,
		RepeatSchedule: done.RepeatSchedule,
		RepeatID:       true,
		Repeated:       done.Repeated + 1,
		RunAt:          next,
	}
	if _, err := s.store.Insert(ctx, succ); err != nil {
		return nil, fmt.Errorf("cron: schedule successor of %s: %w", done.ID, err)
	}
	if s.emitter != nil {
		s.emitter.EmitRepeatScheduled(ctx, done, succ)
	}

	s.logger.Debug("next occurrence scheduled",
		slog.String("job_type", succ.Type),
		slog.String("job_id", succ.ID.String()),
		slog.Time("run_at", succ.RunAt),
		slog.Int("repeated", succ.Repeated),
	)
	return succ, nil
}

// getOrParseSchedule caches parsed recurrence expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
