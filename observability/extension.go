package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobcontrol/ext"
	"github.com/xraph/jobcontrol/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobInserted     = (*MetricsExtension)(nil)
	_ ext.JobClaimed      = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobCancelled    = (*MetricsExtension)(nil)
	_ ext.JobsReclaimed   = (*MetricsExtension)(nil)
	_ ext.JobsRemoved     = (*MetricsExtension)(nil)
	_ ext.RepeatScheduled = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/jobcontrol/observability"

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Register it as an extension to track insert,
// claim, completion, retry, failure, cancellation, reclaim and removal
// rates, plus recurring occurrences scheduled.
type MetricsExtension struct {
	JobInserted     metric.Int64Counter
	JobClaimed      metric.Int64Counter
	JobCompleted    metric.Int64Counter
	JobRetried      metric.Int64Counter
	JobFailed       metric.Int64Counter
	JobCancelled    metric.Int64Counter
	JobReclaimed    metric.Int64Counter
	JobRemoved      metric.Int64Counter
	RepeatScheduled metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobInserted:     counter("jobcontrol.job.inserted", "Jobs created"),
		JobClaimed:      counter("jobcontrol.job.claimed", "Jobs claimed by a worker"),
		JobCompleted:    counter("jobcontrol.job.completed", "Jobs finished successfully"),
		JobRetried:      counter("jobcontrol.job.retried", "Failed attempts scheduled for retry"),
		JobFailed:       counter("jobcontrol.job.failed", "Jobs failed terminally"),
		JobCancelled:    counter("jobcontrol.job.cancelled", "Jobs cancelled"),
		JobReclaimed:    counter("jobcontrol.job.reclaimed", "Abandoned jobs returned to ready"),
		JobRemoved:      counter("jobcontrol.job.removed", "Stale jobs deleted"),
		RepeatScheduled: counter("jobcontrol.repeat.scheduled", "Recurring occurrences scheduled"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(jobType string) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", jobType))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobInserted implements ext.JobInserted.
func (m *MetricsExtension) OnJobInserted(ctx context.Context, j *job.Job) error {
	m.JobInserted.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	m.JobClaimed.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, typeAttr(j.Type))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, jobType string, count int64) error {
	m.JobCancelled.Add(ctx, count, typeAttr(jobType))
	return nil
}

// OnJobsReclaimed implements ext.JobsReclaimed.
func (m *MetricsExtension) OnJobsReclaimed(ctx context.Context, jobType string, count int64) error {
	m.JobReclaimed.Add(ctx, count, typeAttr(jobType))
	return nil
}

// OnJobsRemoved implements ext.JobsRemoved.
func (m *MetricsExtension) OnJobsRemoved(ctx context.Context, count int64) error {
	m.JobRemoved.Add(ctx, count)
	return nil
}

// ── Recurrence hooks ────────────────────────────────

// OnRepeatScheduled implements ext.RepeatScheduled.
func (m *MetricsExtension) OnRepeatScheduled(ctx context.Context, _, next *job.Job) error {
	m.RepeatScheduled.Add(ctx, 1, typeAttr(next.Type))
	return nil
}
