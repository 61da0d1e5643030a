package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobcontrol/id"
)

// Pool runs one Loop per registered job type and owns their lifecycle.
type Pool struct {
	workerID id.WorkerID
	logger   *slog.Logger

	mu      sync.Mutex
	loops   map[string]*Loop
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewPool creates an empty pool. workerID names the process in logs;
// claims carry a fresh token per attempt.
func NewPool(workerID id.WorkerID, logger *slog.Logger) *Pool {
	if workerID.IsNil() {
		workerID = id.NewWorkerID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workerID: workerID,
		logger:   logger,
		loops:    make(map[string]*Loop),
	}
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Add registers a loop. A loop for the same type replaces the previous
// one. If the pool is already running the loop is started immediately.
func (p *Pool) Add(l *Loop) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loops[l.Type()] = l
	if p.running {
		ctx := p.ctx
		p.group.Go(func() error { return l.Run(ctx) })
	}
}

// Loop returns the loop for jobType.
func (p *Pool) Loop(jobType string) (*Loop, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loops[jobType]
	return l, ok
}

// Types returns the job types served by the pool, sorted.
func (p *Pool) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.loops))
	for t := range p.loops {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Trigger requests an immediate pass of the loop for jobType. Unknown
// types are ignored.
func (p *Pool) Trigger(jobType string) {
	if l, ok := p.Loop(jobType); ok {
		l.Trigger()
	}
}

// Start launches every loop. It returns immediately. Calling Start on a
// running pool is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.ctx = ctx
	p.cancel = cancel
	p.group = new(errgroup.Group)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("loops", len(p.loops)),
	)

	for _, l := range p.loops {
		p.group.Go(func() error { return l.Run(ctx) })
	}
	return nil
}

// Stop stops claiming new jobs and waits for running handlers. If ctx
// expires first, active handlers are cancelled and Stop waits for them
// to return. Calling Stop on a stopped pool is a no-op.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, group := p.cancel, p.group
	loops := make([]*Loop, 0, len(p.loops))
	for _, l := range p.loops {
		loops = append(loops, l)
	}
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		p.logger.Info("worker pool stopped gracefully")
		return err
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		for _, l := range loops {
			l.CancelActive()
		}
		return <-done
	}
}
