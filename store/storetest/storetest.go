// Package storetest is a conformance suite shared by every store.Store
// backend. Backend test files call Run with a constructor returning a
// fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
	"github.com/xraph/jobcontrol/store"
)

// Factory returns an empty, migrated store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"InsertGetRoundTrip", testInsertGet},
		{"ConcurrentClaimsAreExclusive", testConcurrentClaims},
		{"ContendedClaimsOnePerRecord", testContendedClaims},
		{"ClaimOrdersByRunAt", testClaimOrder},
		{"UpdateStatusCAS", testUpdateStatusCAS},
		{"BulkOperations", testBulk},
		{"ReclaimAbandoned", testReclaim},
		{"WatchReportsReady", testWatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time { return time.Now().UTC() }

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	j := &job.Job{
		Type:           "sendEmail",
		Data:           map[string]any{"to": "a@example.com"},
		Retry:          backoff.Config{MaxRetries: 5, InitialDelay: time.Minute, Kind: backoff.KindExponential},
		RepeatSchedule: "every day",
		RepeatID:       true,
	}
	jobID, err := s.Insert(ctx, j)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != "sendEmail" || got.Status != job.StatusReady {
		t.Errorf("got %s/%s", got.Type, got.Status)
	}
	if got.Data["to"] != "a@example.com" {
		t.Errorf("data = %v", got.Data)
	}
	if got.Retry != j.Retry {
		t.Errorf("retry = %+v, want %+v", got.Retry, j.Retry)
	}
	if !got.RepeatID || got.RepeatSchedule != "every day" {
		t.Errorf("repeat fields lost: %+v", got)
	}
	if got.RunAt.IsZero() || got.CreatedAt.IsZero() {
		t.Errorf("timestamps not assigned: %+v", got)
	}

	if _, err := s.Insert(ctx, &job.Job{ID: jobID, Type: "dup"}); !errors.Is(err, jobcontrol.ErrJobAlreadyExists) {
		t.Errorf("duplicate insert err = %v", err)
	}
	if _, err := s.Get(ctx, id.NewJobID()); !errors.Is(err, jobcontrol.ErrJobNotFound) {
		t.Errorf("missing get err = %v", err)
	}
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()

	const total = 20
	for range total {
		if _, err := s.Insert(ctx, &job.Job{Type: "work"}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]bool)
		wg     sync.WaitGroup
		dupErr error
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wid := id.NewWorkerID()
			for {
				j, err := s.Claim(ctx, job.ClaimQuery{Type: "work", Now: now(), WorkerID: wid})
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				if seen[j.ID.String()] {
					dupErr = errors.New("job claimed twice: " + j.ID.String())
				}
				seen[j.ID.String()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if dupErr != nil {
		t.Fatal(dupErr)
	}
	if len(seen) != total {
		t.Fatalf("claimed %d, want %d", len(seen), total)
	}
}

// testContendedClaims releases more single-shot claimers than there are
// ready records at once. Every record goes to exactly one caller and the
// rest get (nil, nil).
func testContendedClaims(t *testing.T, s store.Store) {
	ctx := context.Background()

	const (
		callers = 16
		records = 5
	)
	for range records {
		if _, err := s.Insert(ctx, &job.Job{Type: "contended"}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		got     = make([]*job.Job, callers)
		errs    = make([]error, callers)
		claimAt = now()
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got[i], errs[i] = s.Claim(ctx, job.ClaimQuery{Type: "contended", Now: claimAt, WorkerID: id.NewWorkerID()})
		}()
	}
	close(start)
	wg.Wait()

	seen := make(map[string]bool)
	misses := 0
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: Claim: %v", i, errs[i])
		}
		if got[i] == nil {
			misses++
			continue
		}
		if seen[got[i].ID.String()] {
			t.Fatalf("job %s claimed twice", got[i].ID)
		}
		seen[got[i].ID.String()] = true
	}
	if len(seen) != records || misses != callers-records {
		t.Fatalf("claims = %d, misses = %d, want %d and %d", len(seen), misses, records, callers-records)
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now().Add(-time.Hour).Truncate(time.Millisecond)

	later, _ := s.Insert(ctx, &job.Job{Type: "order", RunAt: base.Add(time.Minute)})
	earlier, _ := s.Insert(ctx, &job.Job{Type: "order", RunAt: base})
	_, _ = s.Insert(ctx, &job.Job{Type: "order", RunAt: now().Add(time.Hour)})

	wid := id.NewWorkerID()
	for _, want := range []id.JobID{earlier, later} {
		j, err := s.Claim(ctx, job.ClaimQuery{Type: "order", Now: now(), WorkerID: wid})
		if err != nil || j == nil {
			t.Fatalf("Claim = %v, %v", j, err)
		}
		if j.ID.String() != want.String() {
			t.Fatalf("claimed %s, want %s", j.ID, want)
		}
		if j.Status != job.StatusRunning || j.WorkerID.String() != wid.String() || j.StartedAt == nil {
			t.Fatalf("claimed job not running for worker: %+v", j)
		}
	}

	j, err := s.Claim(ctx, job.ClaimQuery{Type: "order", Now: now(), WorkerID: wid})
	if err != nil || j != nil {
		t.Fatalf("future job claimed: %v, %v", j, err)
	}
}

func testUpdateStatusCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	jobID, _ := s.Insert(ctx, &job.Job{Type: "cas"})
	owner := id.NewWorkerID()
	if _, err := s.Claim(ctx, job.ClaimQuery{Type: "cas", Now: now(), WorkerID: owner}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateStatus(ctx, jobID, job.Transition{
		From: job.StatusRunning, To: job.StatusCompleted, WorkerID: id.NewWorkerID(),
	})
	if !errors.Is(err, jobcontrol.ErrInvalidState) {
		t.Fatalf("foreign worker err = %v, want ErrInvalidState", err)
	}

	runAt := now().Add(time.Hour).Truncate(time.Millisecond)
	err = s.UpdateStatus(ctx, jobID, job.Transition{
		From: job.StatusRunning, To: job.StatusReady, WorkerID: owner,
		LastError: "boom", IncrementRetry: true, RunAt: runAt,
	})
	if err != nil {
		t.Fatalf("retry transition: %v", err)
	}

	got, _ := s.Get(ctx, jobID)
	if got.Status != job.StatusReady || got.RetryCount != 1 || got.LastError != "boom" {
		t.Errorf("after retry: %+v", got)
	}
	if !got.WorkerID.IsNil() {
		t.Error("worker id not cleared")
	}
	if !got.RunAt.Equal(runAt) {
		t.Errorf("run_at = %v, want %v", got.RunAt, runAt)
	}

	if err := s.UpdateStatus(ctx, jobID, job.Transition{
		From: job.StatusRunning, To: job.StatusCompleted,
	}); !errors.Is(err, jobcontrol.ErrInvalidState) {
		t.Errorf("wrong from-status err = %v", err)
	}

	if err := s.UpdateStatus(ctx, jobID, job.Transition{
		From: job.StatusReady, To: job.StatusCancelled,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ = s.Get(ctx, jobID)
	if got.Status != job.StatusCancelled || got.CompletedAt == nil {
		t.Errorf("after cancel: %+v", got)
	}

	if err := s.UpdateStatus(ctx, id.NewJobID(), job.Transition{
		From: job.StatusReady, To: job.StatusRunning,
	}); !errors.Is(err, jobcontrol.ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func testBulk(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, _ = s.Insert(ctx, &job.Job{Type: "bulk", Status: job.StatusPending, RunAt: now().Add(-time.Minute)})
	_, _ = s.Insert(ctx, &job.Job{Type: "bulk", Status: job.StatusPending, RunAt: now().Add(time.Hour)})
	done, _ := s.Insert(ctx, &job.Job{Type: "bulk", Status: job.StatusCompleted})
	_, _ = s.Insert(ctx, &job.Job{Type: "other", Status: job.StatusCompleted})

	promoted, err := s.Promote(ctx, "bulk", now())
	if err != nil || promoted != 1 {
		t.Fatalf("Promote = %d, %v; want 1", promoted, err)
	}

	found, err := s.Find(ctx, job.Query{
		ExcludeTypes:  []string{"other"},
		Statuses:      []job.Status{job.StatusCompleted},
		UpdatedBefore: now().Add(time.Minute),
		Fields:        []string{job.FieldID, job.FieldType, job.FieldStatus, job.FieldUpdatedAt},
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 || found[0].ID.String() != done.String() || found[0].UpdatedAt.IsZero() {
		t.Fatalf("projected find = %+v", found)
	}
	if found[0].Status != job.StatusCompleted || found[0].Type != "bulk" {
		t.Fatalf("projection dropped requested fields: %+v", found[0])
	}

	cancelled, err := s.CancelActive(ctx, "bulk")
	if err != nil || cancelled != 2 {
		t.Fatalf("CancelActive = %d, %v; want 2", cancelled, err)
	}

	n, err := s.Count(ctx, job.Query{Types: []string{"bulk"}, Statuses: []job.Status{job.StatusCancelled}})
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}

	removed, err := s.RemoveMany(ctx, []id.JobID{done, id.NewJobID()})
	if err != nil || removed != 1 {
		t.Fatalf("RemoveMany = %d, %v; want 1", removed, err)
	}
	if removed, _ := s.RemoveMany(ctx, nil); removed != 0 {
		t.Fatalf("RemoveMany(nil) = %d", removed)
	}
}

func testReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()

	jobID, _ := s.Insert(ctx, &job.Job{Type: "crash"})
	if _, err := s.Claim(ctx, job.ClaimQuery{Type: "crash", Now: now(), WorkerID: id.NewWorkerID()}); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.Reclaim(ctx, "crash", now().Add(-time.Hour)); n != 0 {
		t.Fatalf("fresh job reclaimed: %d", n)
	}

	n, err := s.Reclaim(ctx, "crash", now().Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("Reclaim = %d, %v; want 1", n, err)
	}
	got, _ := s.Get(ctx, jobID)
	if got.Status != job.StatusReady || got.RetryCount != 0 || !got.WorkerID.IsNil() {
		t.Fatalf("after reclaim: %s retry=%d worker=%s", got.Status, got.RetryCount, got.WorkerID)
	}

	next, err := s.Claim(ctx, job.ClaimQuery{Type: "crash", Now: now(), WorkerID: id.NewWorkerID()})
	if err != nil || next == nil {
		t.Fatalf("second claim = %v, %v", next, err)
	}
}

func testWatch(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, "watched")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	_, _ = s.Insert(ctx, &job.Job{Type: "ignored"})
	jobID, _ := s.Insert(ctx, &job.Job{Type: "watched"})

	deadline := time.After(10 * time.Second)
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				t.Fatal("change feed closed early")
			}
			if c.Type != "watched" {
				t.Fatalf("change for foreign type: %+v", c)
			}
			if c.JobID.String() == jobID.String() && c.Status == job.StatusReady {
				return
			}
		case <-deadline:
			t.Fatal("no notification received")
		}
	}
}
