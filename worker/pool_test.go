package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
	"github.com/xraph/jobcontrol/middleware"
	"github.com/xraph/jobcontrol/store/memory"
	"github.com/xraph/jobcontrol/worker"
)

// clock is a settable time source for the memory store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func setupTestPool(t *testing.T) (*worker.Pool, *memory.Store, *worker.Executor) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	extensions := ext.NewRegistry(logger)
	executor := worker.NewExecutor(s, extensions, nil, logger, middleware.Recover(logger))
	return worker.NewPool(id.NewWorkerID(), logger), s, executor
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_StartStop(t *testing.T) {
	pool, s, executor := setupTestPool(t)
	pool.Add(worker.NewLoop(job.Registration{
		Type:    "noop",
		Handler: func(context.Context, *job.Job) (job.Result, error) { return job.Result{}, nil },
	}, s, executor, nil, slog.Default()))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_TriggerProcessesJob(t *testing.T) {
	pool, s, executor := setupTestPool(t)

	var processed atomic.Bool
	pool.Add(worker.NewLoop(job.Registration{
		Type:         "greet",
		PollInterval: time.Hour,
		Handler: func(context.Context, *job.Job) (job.Result, error) {
			processed.Store(true)
			return job.Result{Message: "hi"}, nil
		},
	}, s, executor, nil, slog.Default()))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	// Let the startup pass find nothing.
	time.Sleep(20 * time.Millisecond)

	jobID, err := s.Insert(context.Background(), &job.Job{Type: "greet", Retry: backoff.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	pool.Trigger("greet")

	waitFor(t, 2*time.Second, processed.Load)
	waitFor(t, 2*time.Second, func() bool {
		got, _ := s.Get(context.Background(), jobID)
		return got.Status == job.StatusCompleted
	})
}

func TestPool_TriggerUnknownType(t *testing.T) {
	pool, _, _ := setupTestPool(t)
	pool.Trigger("missing")
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, s, executor := setupTestPool(t)

	started := make(chan struct{})
	var finished atomic.Bool
	pool.Add(worker.NewLoop(job.Registration{
		Type: "slow",
		Handler: func(context.Context, *job.Job) (job.Result, error) {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return job.Result{}, nil
		},
	}, s, executor, nil, slog.Default()))

	if _, err := s.Insert(context.Background(), &job.Job{Type: "slow"}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatal("stop returned before the running handler finished")
	}
}

func TestPool_ShutdownDeadlineCancelsHandlers(t *testing.T) {
	pool, s, executor := setupTestPool(t)

	started := make(chan struct{})
	var cancelled atomic.Bool
	pool.Add(worker.NewLoop(job.Registration{
		Type:        "stuck",
		WorkTimeout: time.Hour,
		Handler: func(ctx context.Context, _ *job.Job) (job.Result, error) {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return job.Result{}, ctx.Err()
		},
	}, s, executor, nil, slog.Default()))

	if _, err := s.Insert(context.Background(), &job.Job{Type: "stuck", Retry: backoff.DefaultConfig()}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !cancelled.Load() {
		t.Fatal("handler context was not cancelled at the shutdown deadline")
	}
}

func TestLoop_ConcurrencyLimit(t *testing.T) {
	_, s, executor := setupTestPool(t)
	ctx := context.Background()

	release := make(chan struct{})
	var running, peak atomic.Int32
	loop := worker.NewLoop(job.Registration{
		Type:        "batch",
		Concurrency: 2,
		Handler: func(context.Context, *job.Job) (job.Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return job.Result{}, nil
		},
	}, s, executor, nil, slog.Default())

	for range 5 {
		if _, err := s.Insert(ctx, &job.Job{Type: "batch"}); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := loop.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("claimed = %d, want 2", claimed)
	}

	// All slots are busy, so another pass claims nothing.
	claimed, err = loop.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if claimed != 0 {
		t.Fatalf("claimed with full slots = %d, want 0", claimed)
	}

	close(release)
	loop.Wait()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestLoop_PassPromotesDueJobs(t *testing.T) {
	_, s, executor := setupTestPool(t)
	ctx := context.Background()

	var ran atomic.Int32
	loop := worker.NewLoop(job.Registration{
		Type: "later",
		Handler: func(context.Context, *job.Job) (job.Result, error) {
			ran.Add(1)
			return job.Result{}, nil
		},
	}, s, executor, nil, slog.Default())

	due, _ := s.Insert(ctx, &job.Job{Type: "later", Status: job.StatusPending, RunAt: time.Now().Add(-time.Second)})
	future, _ := s.Insert(ctx, &job.Job{Type: "later", Status: job.StatusPending, RunAt: time.Now().Add(time.Hour)})

	claimed, err := loop.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	loop.Wait()

	if claimed != 1 || ran.Load() != 1 {
		t.Fatalf("claimed = %d ran = %d, want 1/1", claimed, ran.Load())
	}
	if got, _ := s.Get(ctx, due); got.Status != job.StatusCompleted {
		t.Errorf("due job status = %q, want completed", got.Status)
	}
	if got, _ := s.Get(ctx, future); got.Status != job.StatusPending {
		t.Errorf("future job status = %q, want pending", got.Status)
	}
}

func TestLoop_PassReclaimsAbandonedJobs(t *testing.T) {
	c := &clock{}
	logger := slog.Default()
	s := memory.New(memory.WithClock(c.Now))
	executor := worker.NewExecutor(s, nil, nil, logger)
	ctx := context.Background()

	var ran atomic.Int32
	loop := worker.NewLoop(job.Registration{
		Type:        "crashy",
		WorkTimeout: time.Minute,
		Handler: func(context.Context, *job.Job) (job.Result, error) {
			ran.Add(1)
			return job.Result{}, nil
		},
	}, s, executor, nil, logger)

	// A worker claimed the job an hour ago and then died.
	c.Set(time.Now().UTC().Add(-time.Hour))
	jobID, _ := s.Insert(ctx, &job.Job{Type: "crashy"})
	if _, err := s.Claim(ctx, job.ClaimQuery{Type: "crashy", Now: c.Now(), WorkerID: id.NewWorkerID()}); err != nil {
		t.Fatal(err)
	}
	c.Set(time.Time{})

	if _, err := loop.Pass(ctx); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	loop.Wait()

	if ran.Load() != 1 {
		t.Fatalf("ran = %d, want 1", ran.Load())
	}
	got, _ := s.Get(ctx, jobID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 after reclaim", got.RetryCount)
	}
}

func TestLoop_OverrunAttemptCannotFinalizeReclaimedJob(t *testing.T) {
	c := &clock{}
	logger := slog.Default()
	s := memory.New(memory.WithClock(c.Now))
	executor := worker.NewExecutor(s, nil, nil, logger)
	ctx := context.Background()

	type attempt struct {
		job     *job.Job
		release chan struct{}
		message string
	}
	attempts := make(chan *attempt, 2)
	var calls atomic.Int32
	loop := worker.NewLoop(job.Registration{
		Type:        "slow",
		Concurrency: 2,
		WorkTimeout: time.Minute,
		Handler: func(_ context.Context, j *job.Job) (job.Result, error) {
			a := &attempt{job: j, release: make(chan struct{})}
			if calls.Add(1) == 1 {
				a.message = "first"
			} else {
				a.message = "second"
			}
			attempts <- a
			<-a.release
			return job.Result{Message: a.message}, nil
		},
	}, s, executor, nil, logger)

	// The first attempt is claimed an hour ago and is still running.
	c.Set(time.Now().UTC().Add(-time.Hour))
	jobID, _ := s.Insert(ctx, &job.Job{Type: "slow"})
	if _, err := loop.Pass(ctx); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	first := <-attempts
	c.Set(time.Time{})

	// The same loop reclaims the overrun job and starts it again.
	if _, err := loop.Pass(ctx); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	second := <-attempts
	if first.job.WorkerID.String() == second.job.WorkerID.String() {
		t.Fatalf("both attempts hold claim token %s", first.job.WorkerID)
	}

	close(first.release)
	time.Sleep(50 * time.Millisecond)
	if got, _ := s.Get(ctx, jobID); got.Status != job.StatusRunning {
		t.Fatalf("status after overrun attempt = %q, want running", got.Status)
	}

	close(second.release)
	loop.Wait()
	got, _ := s.Get(ctx, jobID)
	if got.Status != job.StatusCompleted || got.Result != "second" {
		t.Fatalf("job = %s %q, want completed by the second attempt", got.Status, got.Result)
	}
}

func TestLoop_StoreErrorIsReported(t *testing.T) {
	_, _, executor := setupTestPool(t)
	loop := worker.NewLoop(job.Registration{Type: "x"}, failingStore{}, executor, nil, slog.Default())

	if _, err := loop.Pass(context.Background()); !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want errStoreDown", err)
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	tr := worker.NewTrigger(0)
	for range 100 {
		tr.Fire()
	}
	if !tr.Pending() {
		t.Fatal("expected a pending wake-up")
	}
	<-tr.C()
	if tr.Pending() {
		t.Fatal("a burst of fires must collapse into one wake-up")
	}
}

func TestTrigger_Paces(t *testing.T) {
	tr := worker.NewTrigger(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := tr.Pace(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tr.Pace(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("two paced wake-ups took %v, want >= ~50ms", elapsed)
	}
}

var errStoreDown = errors.New("store down")

// failingStore fails every call.
type failingStore struct{ job.Store }

func (failingStore) Promote(context.Context, string, time.Time) (int64, error) {
	return 0, errStoreDown
}
