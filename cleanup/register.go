package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/job"
)

// Engine is the subset of engine.Engine used to install the cleanup job.
type Engine interface {
	JobStore() job.Store
	Extensions() *ext.Registry
	Logger() *slog.Logger
	RegisterHandler(jobType string, pollInterval, workTimeout time.Duration, fn job.HandlerFunc)
	OnReady(hook func(ctx context.Context) error)
	InstallRecurring(ctx context.Context, jobType string, data map[string]any, opts ...job.Option) (*job.Job, error)
}

// Register registers the cleanup handler with eng and schedules the
// recurring cleanup job to be installed when eng becomes ready. Any live
// cleanup job left by a previous process is cancelled on install.
func Register(eng Engine, cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := eng.Logger()
	h := NewHandler(eng.JobStore(), cfg,
		WithEmitter(eng.Extensions()),
		WithLogger(logger),
	)
	eng.RegisterHandler(JobType, cfg.PollInterval, cfg.WorkTimeout, h.Handle)

	eng.OnReady(func(ctx context.Context) error {
		logger.Debug("installing recurring job", slog.String("job_type", JobType))
		_, err := eng.InstallRecurring(ctx, JobType, map[string]any{},
			job.WithRetry(cfg.Retry),
			job.WithRepeat(cfg.Schedule),
			job.WithCancelRepeats(),
		)
		return err
	})
	return h, nil
}
