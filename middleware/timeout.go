package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol/job"
)

// Timeout returns middleware that bounds a single attempt. When d is
// positive the handler context is cancelled after d; the handler should
// then return context.DeadlineExceeded, which counts as a failed attempt.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
