package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(jobType string, status job.Status) *job.Job {
	return &job.Job{
		Type:   jobType,
		Status: status,
		Data:   map[string]any{"test": true},
		RunAt:  time.Now().UTC().Add(-time.Second), // eligible immediately
	}
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("report", job.StatusReady)

	jobID, err := s.Insert(ctx, j)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if jobID.IsNil() || jobID.String() != j.ID.String() {
		t.Fatalf("Insert should assign the ID to the record, got %q", jobID)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Fatal("Insert should stamp timestamps")
	}

	if _, err := s.Insert(ctx, j); !errors.Is(err, jobcontrol.ErrJobAlreadyExists) {
		t.Fatalf("duplicate insert: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != "report" || got.Data["test"] != true {
		t.Fatalf("unexpected record: %+v", got)
	}

	got.Data["test"] = false
	again, _ := s.Get(ctx, jobID)
	if again.Data["test"] != true {
		t.Fatal("Get must return a copy")
	}

	if _, err := s.Get(ctx, id.NewJobID()); !errors.Is(err, jobcontrol.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	worker := id.NewWorkerID()
	now := time.Now().UTC()

	future := newJob("report", job.StatusReady)
	future.RunAt = now.Add(time.Hour)
	other := newJob("sendEmail", job.StatusReady)
	older := newJob("report", job.StatusReady)
	older.RunAt = now.Add(-time.Minute)
	newer := newJob("report", job.StatusReady)

	for _, j := range []*job.Job{future, other, older, newer} {
		if _, err := s.Insert(ctx, j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	q := job.ClaimQuery{Type: "report", Now: now, WorkerID: worker}

	first, err := s.Claim(ctx, q)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if first == nil || first.ID.String() != older.ID.String() {
		t.Fatalf("expected oldest due job first, got %+v", first)
	}
	if first.Status != job.StatusRunning || first.WorkerID.String() != worker.String() || first.StartedAt == nil {
		t.Fatalf("claimed job not marked running: %+v", first)
	}

	second, _ := s.Claim(ctx, q)
	if second == nil || second.ID.String() != newer.ID.String() {
		t.Fatalf("expected second job, got %+v", second)
	}

	none, err := s.Claim(ctx, q)
	if err != nil || none != nil {
		t.Fatalf("expected (nil, nil) when nothing is due, got %+v, %v", none, err)
	}
}

func TestClaimConcurrentNoDuplicates(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	const records = 50
	const claimers = 8

	for range records {
		if _, err := s.Insert(ctx, newJob("report", job.StatusReady)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := id.NewWorkerID()
			for {
				j, err := s.Claim(ctx, job.ClaimQuery{Type: "report", Now: time.Now().UTC(), WorkerID: w})
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != records {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), records)
	}
	for jobID, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	owner := id.NewWorkerID()

	j := newJob("report", job.StatusReady)
	if _, err := s.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Claim(ctx, job.ClaimQuery{Type: "report", Now: time.Now().UTC(), WorkerID: owner}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	tests := []struct {
		name    string
		tr      job.Transition
		wantErr error
	}{
		{
			name:    "wrong worker",
			tr:      job.Transition{From: job.StatusRunning, To: job.StatusCompleted, WorkerID: id.NewWorkerID()},
			wantErr: jobcontrol.ErrInvalidState,
		},
		{
			name:    "wrong from",
			tr:      job.Transition{From: job.StatusReady, To: job.StatusRunning},
			wantErr: jobcontrol.ErrInvalidState,
		},
		{
			name:    "owner completes",
			tr:      job.Transition{From: job.StatusRunning, To: job.StatusCompleted, WorkerID: owner, Result: "ok"},
			wantErr: nil,
		},
		{
			name:    "terminal is final",
			tr:      job.Transition{From: job.StatusCompleted, To: job.StatusReady},
			wantErr: jobcontrol.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateStatus(ctx, j.ID, tt.tr)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := s.Get(ctx, j.ID)
	if got.Status != job.StatusCompleted || got.Result != "ok" || got.CompletedAt == nil {
		t.Fatalf("unexpected final record: %+v", got)
	}

	if err := s.UpdateStatus(ctx, id.NewJobID(), job.Transition{}); !errors.Is(err, jobcontrol.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestFindAndCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, st := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusReady} {
		if _, err := s.Insert(ctx, newJob("report", st)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := s.Insert(ctx, newJob("sendEmail", job.StatusCompleted)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	q := job.Query{
		ExcludeTypes: []string{"sendEmail"},
		Statuses:     []job.Status{job.StatusCompleted, job.StatusFailed},
		Fields:       []string{job.FieldID, job.FieldType},
	}
	found, err := s.Find(ctx, q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Find returned %d jobs, want 2", len(found))
	}
	for _, j := range found {
		if j.Type != "report" || j.Data != nil {
			t.Errorf("projection not applied: %+v", j)
		}
	}

	n, err := s.Count(ctx, q)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}

	limited, _ := s.Find(ctx, job.Query{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("Limit not applied: %d", len(limited))
	}
}

func TestRemoveMany(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a, _ := s.Insert(ctx, newJob("report", job.StatusCompleted))
	b, _ := s.Insert(ctx, newJob("report", job.StatusCompleted))

	n, err := s.RemoveMany(ctx, []id.JobID{a, b, id.NewJobID()})
	if err != nil {
		t.Fatalf("RemoveMany: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if _, err := s.Get(ctx, a); !errors.Is(err, jobcontrol.ErrJobNotFound) {
		t.Fatal("removed job still present")
	}
}

func TestCancelActive(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pending := newJob("cleanup", job.StatusPending)
	ready := newJob("cleanup", job.StatusReady)
	done := newJob("cleanup", job.StatusCompleted)
	other := newJob("report", job.StatusReady)
	for _, j := range []*job.Job{pending, ready, done, other} {
		if _, err := s.Insert(ctx, j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := s.CancelActive(ctx, "cleanup")
	if err != nil || n != 2 {
		t.Fatalf("CancelActive = %d, %v; want 2", n, err)
	}

	for _, tc := range []struct {
		j    *job.Job
		want job.Status
	}{
		{pending, job.StatusCancelled},
		{ready, job.StatusCancelled},
		{done, job.StatusCompleted},
		{other, job.StatusReady},
	} {
		got, _ := s.Get(ctx, tc.j.ID)
		if got.Status != tc.want {
			t.Errorf("%s/%s: status %s, want %s", tc.j.Type, tc.j.ID, got.Status, tc.want)
		}
	}
}

func TestPromote(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newJob("report", job.StatusPending)
	due.RunAt = now.Add(-time.Minute)
	later := newJob("report", job.StatusPending)
	later.RunAt = now.Add(time.Hour)
	for _, j := range []*job.Job{due, later} {
		if _, err := s.Insert(ctx, j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := s.Promote(ctx, "report", now)
	if err != nil || n != 1 {
		t.Fatalf("Promote = %d, %v; want 1", n, err)
	}
	got, _ := s.Get(ctx, due.ID)
	if got.Status != job.StatusReady {
		t.Fatalf("due job status %s, want ready", got.Status)
	}
	got, _ = s.Get(ctx, later.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("future job status %s, want pending", got.Status)
	}
}

func TestReclaimAbandoned(t *testing.T) {
	t.Parallel()
	clock := time.Now().UTC()
	s := New(WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	j := newJob("report", job.StatusReady)
	if _, err := s.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	crashed := id.NewWorkerID()
	if _, err := s.Claim(ctx, job.ClaimQuery{Type: "report", Now: clock, WorkerID: crashed}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Not yet stale.
	if n, _ := s.Reclaim(ctx, "report", clock.Add(-time.Minute)); n != 0 {
		t.Fatalf("reclaimed %d fresh jobs", n)
	}

	clock = clock.Add(2 * time.Minute)
	n, err := s.Reclaim(ctx, "report", clock.Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Reclaim = %d, %v; want 1", n, err)
	}

	rescuer := id.NewWorkerID()
	got, err := s.Claim(ctx, job.ClaimQuery{Type: "report", Now: clock, WorkerID: rescuer})
	if err != nil || got == nil {
		t.Fatalf("reclaimed job not claimable: %v", err)
	}
	if got.WorkerID.String() != rescuer.String() {
		t.Fatalf("claimed by %s, want %s", got.WorkerID, rescuer)
	}

	// The crashed worker can no longer finalize it.
	err = s.UpdateStatus(ctx, j.ID, job.Transition{From: job.StatusRunning, To: job.StatusCompleted, WorkerID: crashed})
	if !errors.Is(err, jobcontrol.ErrInvalidState) {
		t.Fatalf("stale owner completed reclaimed job: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Change feed tests
// ──────────────────────────────────────────────────

func TestWatch(t *testing.T) {
	t.Parallel()
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx, "report")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if _, err := s.Insert(context.Background(), newJob("sendEmail", job.StatusReady)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	j := newJob("report", job.StatusReady)
	if _, err := s.Insert(context.Background(), j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case c := <-ch:
		if c.JobID.String() != j.ID.String() || c.Op != job.OpInserted || c.Status != job.StatusReady {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// Drain any buffered change; the next receive must observe close.
			if _, ok := <-ch; ok {
				t.Fatal("channel not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
