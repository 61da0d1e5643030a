package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
	mw "github.com/xraph/jobcontrol/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")
	return sr, tracer
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Type:       "sendEmail",
		RetryCount: 2,
		Repeated:   4,
	}
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := newTestJob()

	err := m(context.Background(), j, func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "jobcontrol.job.execute" {
		t.Errorf("expected span name %q, got %q", "jobcontrol.job.execute", spans[0].Name())
	}
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	out := make(map[string]any)
	for _, a := range span.Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			out[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			out[string(a.Key)] = a.Value.AsInt64()
		}
	}
	return out
}

func TestTracing_SpanAttributes(t *testing.T) {
	tests := []struct {
		name string
		job  *job.Job
		want map[string]any
	}{
		{
			name: "retried email",
			job:  newTestJob(),
			want: map[string]any{
				"jobcontrol.job.type":    "sendEmail",
				"jobcontrol.retry_count": int64(2),
				"jobcontrol.repeated":    int64(4),
			},
		},
		{
			name: "third cleanup occurrence",
			job: &job.Job{
				ID:             id.NewJobID(),
				Type:           "jobControl/removeStaleJobs",
				RepeatSchedule: "every day",
				RepeatID:       true,
				Repeated:       3,
			},
			want: map[string]any{
				"jobcontrol.job.type":    "jobControl/removeStaleJobs",
				"jobcontrol.retry_count": int64(0),
				"jobcontrol.repeated":    int64(3),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tracer := setupTestTracer()
			_ = mw.TracingWithTracer(tracer)(context.Background(), tt.job, func(context.Context) error { return nil })

			spans := sr.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			got := spanAttrs(spans[0])
			if got["jobcontrol.job.id"] != tt.job.ID.String() {
				t.Errorf("jobcontrol.job.id = %v, want %s", got["jobcontrol.job.id"], tt.job.ID)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("attribute %q = %v, want %v", key, got[key], want)
				}
			}
		})
	}
}

// Each occurrence of a recurring chain gets its own span tagged with its
// position in the chain; a recovered panic marks only that span.
func TestTracing_RecurringChainOccurrences(t *testing.T) {
	sr, tracer := setupTestTracer()
	stack := mw.Chain(mw.TracingWithTracer(tracer), mw.Recover(slog.Default()))

	for n := range 3 {
		occurrence := &job.Job{
			ID:             id.NewJobID(),
			Type:           "report",
			RepeatSchedule: "@daily",
			RepeatID:       true,
			Repeated:       n,
		}
		_ = stack(context.Background(), occurrence, func(context.Context) error {
			if n == 1 {
				panic("render crashed")
			}
			return nil
		})
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	for n, span := range spans {
		got := spanAttrs(span)
		if got["jobcontrol.job.type"] != "report" || got["jobcontrol.repeated"] != int64(n) {
			t.Errorf("span %d attrs = %v", n, got)
		}
		wantCode := codes.Ok
		if n == 1 {
			wantCode = codes.Error
		}
		if span.Status().Code != wantCode {
			t.Errorf("span %d status = %v, want %v", n, span.Status().Code, wantCode)
		}
	}
}

func TestTracing_Success_SetsOkStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := newTestJob()

	_ = m(context.Background(), j, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := newTestJob()

	handlerErr := errors.New("handler failed")
	err := m(context.Background(), j, func(_ context.Context) error {
		return handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "handler failed" {
		t.Errorf("expected status description %q, got %q", "handler failed", spans[0].Status().Description)
	}

	// Verify error event was recorded.
	events := spans[0].Events()
	found := false
	for _, ev := range events {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := newTestJob()

	var handlerSpanCtx trace.SpanContext
	_ = m(context.Background(), j, func(ctx context.Context) error {
		handlerSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	// The handler should have received the span context from the middleware.
	if !handlerSpanCtx.IsValid() {
		t.Error("expected valid span context in handler, got invalid")
	}
	if handlerSpanCtx.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	// Calling Tracing() without a global provider should not panic.
	m := mw.Tracing()
	j := newTestJob()

	called := false
	err := m(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
