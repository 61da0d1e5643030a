package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// DefaultPollingInterval is the PollingWatcher scan period.
const DefaultPollingInterval = time.Second

// PollingWatcher implements job.Watcher for stores without a native change
// feed. It periodically lists ready jobs of the watched type and reports
// each job that was not ready in the previous scan.
type PollingWatcher struct {
	store    job.Store
	interval time.Duration
	logger   *slog.Logger
}

// PollingOption configures a PollingWatcher.
type PollingOption func(*PollingWatcher)

// WithPollingInterval sets the scan period.
func WithPollingInterval(d time.Duration) PollingOption {
	return func(w *PollingWatcher) { w.interval = d }
}

// WithPollingLogger sets the logger.
func WithPollingLogger(l *slog.Logger) PollingOption {
	return func(w *PollingWatcher) { w.logger = l }
}

// NewPollingWatcher creates a watcher that scans store.
func NewPollingWatcher(store job.Store, opts ...PollingOption) *PollingWatcher {
	w := &PollingWatcher{
		store:    store,
		interval: DefaultPollingInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Compile-time check.
var _ job.Watcher = (*PollingWatcher)(nil)

// Watch starts scanning for jobType. The channel is closed when ctx ends.
// Scan errors are logged and the next tick retries.
func (w *PollingWatcher) Watch(ctx context.Context, jobType string) (<-chan job.Change, error) {
	ch := make(chan job.Change, 16)
	seen, err := w.scan(ctx, jobType)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(ch)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, scanErr := w.scan(ctx, jobType)
			if scanErr != nil {
				if ctx.Err() == nil {
					w.logger.Warn("polling watcher scan failed",
						slog.String("job_type", jobType),
						slog.String("error", scanErr.Error()),
					)
				}
				continue
			}

			for key, jobID := range current {
				if _, ok := seen[key]; ok {
					continue
				}
				change := job.Change{JobID: jobID, Type: jobType, Status: job.StatusReady, Op: job.OpUpdated}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
			seen = current
		}
	}()

	return ch, nil
}

func (w *PollingWatcher) scan(ctx context.Context, jobType string) (map[string]id.JobID, error) {
	jobs, err := w.store.Find(ctx, job.Query{
		Types:    []string{jobType},
		Statuses: []job.Status{job.StatusReady},
		Fields:   []string{job.FieldID},
	})
	if err != nil {
		return nil, err
	}
	ready := make(map[string]id.JobID, len(jobs))
	for _, j := range jobs {
		ready[j.ID.String()] = j.ID
	}
	return ready, nil
}
