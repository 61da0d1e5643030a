package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/cron"
	"github.com/xraph/jobcontrol/job"
	"github.com/xraph/jobcontrol/store/memory"
)

// stubEmitter records scheduler events.
type stubEmitter struct {
	mu        sync.Mutex
	inserted  int
	cancelled int64
	repeats   []*job.Job
}

func (e *stubEmitter) EmitJobInserted(context.Context, *job.Job) {
	e.mu.Lock()
	e.inserted++
	e.mu.Unlock()
}

func (e *stubEmitter) EmitJobCancelled(_ context.Context, _ string, n int64) {
	e.mu.Lock()
	e.cancelled += n
	e.mu.Unlock()
}

func (e *stubEmitter) EmitRepeatScheduled(_ context.Context, _, next *job.Job) {
	e.mu.Lock()
	e.repeats = append(e.repeats, next)
	e.mu.Unlock()
}

var fixedNow = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestScheduler(t *testing.T, now func() time.Time) (*cron.Scheduler, *memory.Store, *stubEmitter) {
	t.Helper()
	s := memory.New()
	emitter := &stubEmitter{}
	sched := cron.NewScheduler(s, emitter, nil, cron.WithClock(now))
	return sched, s, emitter
}

// ──────────────────────────────────────────────────
// Expressions
// ──────────────────────────────────────────────────

func TestTranslate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"every day", "0 0 * * *"},
		{"Every  Day", "0 0 * * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"every minute", "* * * * *"},
		{"every 2 hours", "0 */2 * * *"},
		{"every hour", "0 * * * *"},
		{"every 3 days", "0 0 */3 * *"},
		{"every week", "0 0 * * 0"},
		{"every month", "0 0 1 * *"},
		{"every weekday", "0 0 * * 1-5"},
		{"every weekend", "0 0 * * 0,6"},
		{"every 30 seconds", "@every 30s"},
		{"every day at 3:30", "30 3 * * *"},
		{"every day at 9:15pm", "15 21 * * *"},
		{"every day at 12am", "0 0 * * *"},
		{"at 12:05 pm every weekday", "5 12 * * 1-5"},
		{"every weekday at 9:30am", "30 9 * * 1-5"},
		{"0 3 * * *", "0 3 * * *"},
		{"@daily", "@daily"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := cron.Translate(tt.expr)
			if err != nil {
				t.Fatalf("Translate(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Translate(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"not-a-cron",
		"every fortnight",
		"every 2 weeks",
		"every hour at 3:00",
		"every 2 hours at 10:30",
		"every day at 25:00",
		"every day at 13pm",
		"every 0 minutes",
		"61 * * * *",
	} {
		if _, err := cron.ParseSchedule(expr); !errors.Is(err, jobcontrol.ErrInvalidSchedule) {
			t.Errorf("ParseSchedule(%q) error = %v, want ErrInvalidSchedule", expr, err)
		}
	}
}

func TestNext_StrictlyAfterAndDeterministic(t *testing.T) {
	sched, _, _ := newTestScheduler(t, func() time.Time { return fixedNow })

	for _, expr := range []string{"every day", "*/5 * * * *", "@every 30s", "every weekday at 9:30am", "@hourly"} {
		a, err := sched.Next(expr, fixedNow)
		if err != nil {
			t.Fatalf("Next(%q): %v", expr, err)
		}
		if !a.After(fixedNow) {
			t.Errorf("Next(%q) = %v, not after %v", expr, a, fixedNow)
		}
		b, _ := sched.Next(expr, fixedNow)
		if !a.Equal(b) {
			t.Errorf("Next(%q) not deterministic: %v vs %v", expr, a, b)
		}
	}

	// A time exactly on a boundary yields the following occurrence.
	midnight := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	next, _ := sched.Next("every day", midnight)
	if want := midnight.Add(24 * time.Hour); !next.Equal(want) {
		t.Errorf("Next(every day, midnight) = %v, want %v", next, want)
	}
}

// ──────────────────────────────────────────────────
// Install
// ──────────────────────────────────────────────────

func TestInstall_FirstOccurrencePending(t *testing.T) {
	sched, s, emitter := newTestScheduler(t, func() time.Time { return fixedNow })
	ctx := context.Background()

	j, err := sched.Install(ctx, "jobControl/removeStaleJobs", nil,
		job.NewOptions(job.WithRepeat("every day")))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !j.RunAt.Equal(want) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, want)
	}
	if j.Status != job.StatusPending || !j.RepeatID {
		t.Errorf("template should be pending with RepeatID: %+v", j)
	}

	stored, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.RepeatSchedule != "every day" {
		t.Errorf("schedule not stored: %q", stored.RepeatSchedule)
	}
	if emitter.inserted != 1 {
		t.Errorf("inserted events = %d, want 1", emitter.inserted)
	}
}

func TestInstall_RunNowIsReady(t *testing.T) {
	sched, _, _ := newTestScheduler(t, func() time.Time { return fixedNow })

	j, err := sched.Install(context.Background(), "report", nil,
		job.NewOptions(job.WithRepeat("every day"), job.WithRunNow()))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if j.Status != job.StatusReady || !j.RunAt.Equal(fixedNow) {
		t.Errorf("run-now template should be ready at now: %+v", j)
	}
}

func TestInstall_CancelRepeatsLeavesOneLive(t *testing.T) {
	sched, s, emitter := newTestScheduler(t, func() time.Time { return fixedNow })
	ctx := context.Background()
	opts := job.NewOptions(job.WithRepeat("every day"), job.WithCancelRepeats())

	if _, err := sched.Install(ctx, "cleanup", nil, opts); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	second, err := sched.Install(ctx, "cleanup", nil, opts)
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}

	live, err := s.Find(ctx, job.Query{Types: []string{"cleanup"}, Statuses: job.ActiveStatuses()})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(live) != 1 || live[0].ID.String() != second.ID.String() {
		t.Fatalf("expected only the second install live, got %d records", len(live))
	}
	if emitter.cancelled != 1 {
		t.Errorf("cancelled events = %d, want 1", emitter.cancelled)
	}
}

func TestInstall_RejectsBadSchedule(t *testing.T) {
	sched, s, _ := newTestScheduler(t, func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := sched.Install(ctx, "report", nil, job.NewOptions(job.WithRepeat("whenever")))
	if !errors.Is(err, jobcontrol.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	_, err = sched.Install(ctx, "report", nil, job.NewOptions())
	if !errors.Is(err, jobcontrol.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for missing schedule, got %v", err)
	}
	if n, _ := s.Count(ctx, job.Query{}); n != 0 {
		t.Fatalf("rejected install inserted %d records", n)
	}
}

// ──────────────────────────────────────────────────
// Successor
// ──────────────────────────────────────────────────

func TestSuccessor_FutureOccurrence(t *testing.T) {
	sched, _, emitter := newTestScheduler(t, func() time.Time { return fixedNow })

	done := &job.Job{
		Type:           "report",
		Status:         job.StatusCompleted,
		Data:           map[string]any{"format": "pdf"},
		RepeatSchedule: "every day",
		RepeatID:       true,
		Repeated:       2,
		RetryCount:     3,
		RunAt:          time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
	}

	succ, err := sched.Successor(context.Background(), done)
	if err != nil {
		t.Fatalf("Successor: %v", err)
	}
	if want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC); !succ.RunAt.Equal(want) {
		t.Errorf("RunAt = %v, want %v", succ.RunAt, want)
	}
	if succ.Status != job.StatusPending {
		t.Errorf("Status = %s, want pending", succ.Status)
	}
	if succ.Repeated != 3 || succ.RetryCount != 0 || !succ.RepeatID {
		t.Errorf("successor bookkeeping wrong: %+v", succ)
	}
	if succ.Data["format"] != "pdf" {
		t.Errorf("data not inherited: %+v", succ.Data)
	}
	if len(emitter.repeats) != 1 {
		t.Errorf("repeat events = %d, want 1", len(emitter.repeats))
	}
}

func TestSuccessor_EvaluatesScheduleInUTC(t *testing.T) {
	sched, _, _ := newTestScheduler(t, func() time.Time { return fixedNow })

	// Drivers may scan RunAt in the host's zone; it is still UTC midnight.
	eastern := time.FixedZone("EST", -5*60*60)
	done := &job.Job{
		Type:           "report",
		Status:         job.StatusCompleted,
		RepeatSchedule: "every day",
		RepeatID:       true,
		RunAt:          time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC).In(eastern),
	}

	succ, err := sched.Successor(context.Background(), done)
	if err != nil {
		t.Fatalf("Successor: %v", err)
	}
	if want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC); !succ.RunAt.Equal(want) {
		t.Errorf("RunAt = %v, want %v", succ.RunAt, want)
	}
	if succ.RunAt.Location() != time.UTC {
		t.Errorf("RunAt location = %v, want UTC", succ.RunAt.Location())
	}
}

func TestSuccessor_CollapsesMissedOccurrences(t *testing.T) {
	sched, s, _ := newTestScheduler(t, func() time.Time { return fixedNow })
	ctx := context.Background()

	// The occurrence was due ten days ago; nine runs were missed.
	done := &job.Job{
		Type:           "report",
		Status:         job.StatusCompleted,
		RepeatSchedule: "every day",
		RepeatID:       true,
		RunAt:          fixedNow.Add(-10 * 24 * time.Hour),
	}

	succ, err := sched.Successor(ctx, done)
	if err != nil {
		t.Fatalf("Successor: %v", err)
	}
	if succ.Status != job.StatusReady || !succ.RunAt.Equal(fixedNow) {
		t.Errorf("missed runs should collapse into one immediate run: %+v", succ)
	}
	if n, _ := s.Count(ctx, job.Query{Types: []string{"report"}}); n != 1 {
		t.Errorf("inserted %d successors, want 1", n)
	}
}

func TestSuccessor_NotRecurring(t *testing.T) {
	sched, _, _ := newTestScheduler(t, func() time.Time { return fixedNow })

	succ, err := sched.Successor(context.Background(), &job.Job{Type: "once", Status: job.StatusCompleted})
	if err != nil || succ != nil {
		t.Fatalf("expected (nil, nil) for a one-off job, got %+v, %v", succ, err)
	}
}
