// Package telemetry implements the Tracing Spine: W3C trace-context
// propagation, span creation around each request stage, and the
// Logger/Metrics facades every other runtime package logs and instruments
// through, backed by goa.design/clue in production and no-ops in tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger is the structured logging facade used throughout the data
	// plane. Keyvals follow the (k1, v1, k2, v2, ...) convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics is the instrumentation facade for counters, timers, and
	// gauges. tags are flattened key/value string pairs.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans for the active request.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of span behavior the data plane depends on,
	// independent of the concrete OTEL span type.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// MergeContext carries the active span context from base onto ctx, without
// adopting base's cancellation or deadline. Temporal activity contexts are
// freshly derived per attempt and do not inherit the originating workflow
// call's span; this lets activity-scoped logging and tracing still resolve
// to the request's trace rather than starting an orphan trace.
func MergeContext(ctx, base context.Context) context.Context {
	if base == nil {
		return ctx
	}
	sc := trace.SpanContextFromContext(base)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
