package jobcontrol

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Controller.
type Option func(*Controller) error

// Storer is the minimal store interface held by the Controller.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine layer, which sits above the
// subsystem packages and so cannot create an import cycle.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Controller owns the configuration, logger, store and worker pool of one
// job queue. It is constructed once by the host at startup and torn down
// at shutdown; nothing in jobcontrol keeps package-level state.
//
// Create one with New() and functional options, then hand it to
// engine.Build to wire the subsystems together.
type Controller struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Controller with the given options.
func New(opts ...Option) (*Controller, error) {
	c := &Controller{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the controller's logger.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// Store returns the controller's store.
func (c *Controller) Store() Storer { return c.store }

// Config returns a copy of the controller's configuration.
func (c *Controller) Config() Config { return c.config }

// SetPool sets the worker pool (called by the engine package).
func (c *Controller) SetPool(p poolRunner) { c.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Controller) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins job processing.
func (c *Controller) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the controller. Active handlers get until
// ShutdownTimeout (or the context deadline, whichever comes first).
func (c *Controller) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		stopCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
		if err := c.pool.Stop(stopCtx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
		cancel()
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithPollInterval sets the default poll interval for worker loops.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithWorkTimeout sets the default work timeout for worker loops.
func WithWorkTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		c.config.WorkTimeout = d
		return nil
	}
}

// WithConcurrency sets the default number of concurrent jobs per type.
func WithConcurrency(n int) Option {
	return func(c *Controller) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithWakeInterval sets the minimum spacing between notification-driven
// claim passes.
func WithWakeInterval(d time.Duration) Option {
	return func(c *Controller) error {
		c.config.WakeInterval = d
		return nil
	}
}

// WithObserverRetry sets the delay before an observer re-subscribes to a
// broken change feed.
func WithObserverRetry(d time.Duration) Option {
	return func(c *Controller) error {
		c.config.ObserverRetry = d
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Controller) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the controller.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the controller.
// The store must implement Storer at minimum; typically it will be a
// store.Store which also implements job.Store and job.Watcher.
func WithStore(s Storer) Option {
	return func(c *Controller) error {
		c.store = s
		return nil
	}
}
