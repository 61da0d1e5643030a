package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/cron"
	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
	mw "github.com/xraph/jobcontrol/middleware"
	"github.com/xraph/jobcontrol/observability"
	"github.com/xraph/jobcontrol/observer"
	"github.com/xraph/jobcontrol/worker"
)

const instrumentationName = "github.com/xraph/jobcontrol"

// ReadyHook runs once when the host signals that the job system is ready.
type ReadyHook func(ctx context.Context) error

// Engine wraps a Controller with typed subsystem access.
// Use Build() to create one from a Controller.
type Engine struct {
	c          *jobcontrol.Controller
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	watcher    job.Watcher
	scheduler  *cron.Scheduler
	executor   *worker.Executor
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	started   bool
	obsCtx    context.Context
	obsCancel context.CancelFunc
	obsGroup  *errgroup.Group
	observed  map[string]bool

	readyHooks []ReadyHook
	readyOnce  sync.Once
	readyErr   error
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. Custom middleware
// runs inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithWatcher overrides the change feed used to wake worker loops. By
// default the store's own feed is used when it implements job.Watcher,
// otherwise an observer.PollingWatcher.
func WithWatcher(w job.Watcher) Option {
	return func(eng *Engine) {
		eng.watcher = w
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Controller.
// The Controller's store must implement job.Store.
func Build(c *jobcontrol.Controller, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, jobcontrol.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("jobcontrol: store does not implement job.Store")
	}

	eng := &Engine{
		c:          c,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		logger:     logger,
		observed:   make(map[string]bool),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.watcher == nil {
		if w, isWatcher := store.(job.Watcher); isWatcher {
			eng.watcher = w
		} else {
			eng.watcher = observer.NewPollingWatcher(js, observer.WithPollingLogger(logger))
		}
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging.
	// The executor adds the per-type timeout innermost.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.scheduler = cron.NewScheduler(js, eng.extensions, logger)
	eng.executor = worker.NewExecutor(js, eng.extensions, eng.scheduler, logger, allMws...)
	eng.pool = worker.NewPool(id.NewWorkerID(), logger)

	// Wire back into the Controller.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────

// RegisterJob registers a handler and creates its worker loop. Zero
// settings fall back to the Controller's Config. Registering a type
// again replaces the previous handler.
func (eng *Engine) RegisterJob(reg job.Registration) {
	cfg := eng.c.Config()
	if reg.PollInterval <= 0 {
		reg.PollInterval = cfg.PollInterval
	}
	if reg.WorkTimeout <= 0 {
		reg.WorkTimeout = cfg.WorkTimeout
	}
	if reg.Concurrency <= 0 {
		reg.Concurrency = cfg.Concurrency
	}

	eng.registry.Register(reg)
	eng.pool.Add(worker.NewLoop(reg, eng.jobStore, eng.executor, eng.extensions, eng.logger,
		worker.WithWakeInterval(cfg.WakeInterval),
	))

	eng.logger.Debug("job handler registered",
		slog.String("job_type", reg.Type),
		slog.Duration("poll_interval", reg.PollInterval),
		slog.Duration("work_timeout", reg.WorkTimeout),
		slog.Int("concurrency", reg.Concurrency),
	)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		eng.observeLocked(reg.Type)
	}
}

// RegisterHandler registers fn for jobType with the given poll interval
// and work timeout.
func (eng *Engine) RegisterHandler(jobType string, pollInterval, workTimeout time.Duration, fn job.HandlerFunc) {
	eng.RegisterJob(job.Registration{
		Type:         jobType,
		PollInterval: pollInterval,
		WorkTimeout:  workTimeout,
		Handler:      fn,
	})
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	eng.RegisterJob(def.Registration())
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

// Enqueue inserts a job of jobType. A job with a repeat schedule is
// installed as a recurring template, see InstallRecurring. With
// job.WithCancelRepeats, live jobs of jobType are cancelled first.
func (eng *Engine) Enqueue(ctx context.Context, jobType string, data map[string]any, opts ...job.Option) (*job.Job, error) {
	o := job.NewOptions(opts...)
	if o.RepeatSchedule != "" {
		return eng.scheduler.Install(ctx, jobType, data, o)
	}
	if err := o.Retry.Validate(); err != nil {
		return nil, err
	}

	if o.CancelRepeats {
		n, err := eng.jobStore.CancelActive(ctx, jobType)
		if err != nil {
			return nil, fmt.Errorf("enqueue %q: cancel live jobs: %w", jobType, err)
		}
		if n > 0 {
			eng.extensions.EmitJobCancelled(ctx, jobType, n)
		}
	}

	j := o.Build(jobType, data, time.Now().UTC())
	if _, err := eng.jobStore.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue %q: %w", jobType, err)
	}

	eng.extensions.EmitJobInserted(ctx, j)
	if j.Status == job.StatusReady {
		eng.pool.Trigger(jobType)
	}
	return j, nil
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := job.EncodeData(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for job %q: %w", jobType, err)
	}
	return eng.Enqueue(ctx, jobType, data, opts...)
}

// InstallRecurring installs a recurring job template. opts must include
// job.WithRepeat; job.WithCancelRepeats replaces any live chain of the
// same type.
func (eng *Engine) InstallRecurring(ctx context.Context, jobType string, data map[string]any, opts ...job.Option) (*job.Job, error) {
	j, err := eng.scheduler.Install(ctx, jobType, data, job.NewOptions(opts...))
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusReady {
		eng.pool.Trigger(jobType)
	}
	return j, nil
}

// RegisterRecurring installs a typed recurring definition.
func RegisterRecurring[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) (*job.Job, error) {
	data, err := job.EncodeData(def.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for recurring job %q: %w", def.Type, err)
	}

	opts := []job.Option{job.WithRepeat(def.Schedule)}
	if def.Retry != (backoff.Config{}) {
		opts = append(opts, job.WithRetry(def.Retry))
	}
	if def.CancelRepeats {
		opts = append(opts, job.WithCancelRepeats())
	}
	if def.RunNow {
		opts = append(opts, job.WithRunNow())
	}
	return eng.InstallRecurring(ctx, def.Type, data, opts...)
}

// Cancel cancels every non-terminal job of jobType.
func (eng *Engine) Cancel(ctx context.Context, jobType string) (int64, error) {
	n, err := eng.jobStore.CancelActive(ctx, jobType)
	if err != nil {
		return 0, fmt.Errorf("cancel %q: %w", jobType, err)
	}
	if n > 0 {
		eng.extensions.EmitJobCancelled(ctx, jobType, n)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Ready signal
// ──────────────────────────────────────────────────

// OnReady registers a hook run by Ready. Hooks run in registration order.
func (eng *Engine) OnReady(hook func(ctx context.Context) error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.readyHooks = append(eng.readyHooks, hook)
}

// Ready runs the registered ready hooks. The host calls it once the job
// system is up; later calls return the first call's result. Every hook
// runs even if an earlier one fails.
func (eng *Engine) Ready(ctx context.Context) error {
	eng.readyOnce.Do(func() {
		eng.mu.Lock()
		hooks := append([]ReadyHook(nil), eng.readyHooks...)
		eng.mu.Unlock()

		var errs []error
		for _, hook := range hooks {
			if err := hook(ctx); err != nil {
				eng.logger.Error("ready hook failed", slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
		eng.readyErr = errors.Join(errs...)
	})
	return eng.readyErr
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins job processing: worker loops for every registered type and
// one change observer per type.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.c.Start(ctx); err != nil {
		return err
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}
	eng.started = true
	eng.obsCtx, eng.obsCancel = context.WithCancel(context.Background())
	eng.obsGroup = new(errgroup.Group)
	eng.observed = make(map[string]bool)
	for _, jobType := range eng.pool.Types() {
		eng.observeLocked(jobType)
	}
	return nil
}

func (eng *Engine) observeLocked(jobType string) {
	if eng.observed[jobType] {
		return
	}
	eng.observed[jobType] = true

	obs := observer.New(eng.watcher, eng.pool, jobType,
		observer.WithRetry(eng.c.Config().ObserverRetry),
		observer.WithLogger(eng.logger),
	)
	ctx := eng.obsCtx
	eng.obsGroup.Go(func() error { return obs.Run(ctx) })
}

// Stop stops the observers, drains the worker pool, emits the shutdown
// hook and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.started {
		eng.started = false
		eng.obsCancel()
		group := eng.obsGroup
		eng.mu.Unlock()
		if err := group.Wait(); err != nil {
			eng.logger.Warn("observer stop error", slog.String("error", err.Error()))
		}
	} else {
		eng.mu.Unlock()
	}

	return eng.c.Stop(ctx)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Controller returns the underlying Controller.
func (eng *Engine) Controller() *jobcontrol.Controller { return eng.c }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// JobStore returns the job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// Scheduler returns the recurrence scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }
