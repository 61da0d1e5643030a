package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobcontrol/job"
)

// tracerName is the instrumentation scope name for jobcontrol tracing.
const tracerName = "github.com/xraph/jobcontrol"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used.
//
// Span attributes include: jobcontrol.job.id, jobcontrol.job.type,
// jobcontrol.retry_count, jobcontrol.repeated.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobcontrol.job.execute",
			trace.WithAttributes(
				attribute.String("jobcontrol.job.id", j.ID.String()),
				attribute.String("jobcontrol.job.type", j.Type),
				attribute.Int("jobcontrol.retry_count", j.RetryCount),
				attribute.Int("jobcontrol.repeated", j.Repeated),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
