package telemetry

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// traceparentPropagator is the W3C Trace Context propagator used across the
// data plane's ingress and egress boundaries.
var traceparentPropagator = propagation.TraceContext{}

// ExtractTraceparent adopts the traceparent header on header as the parent
// span context when present, otherwise returns ctx unchanged (a fresh trace
// will be generated by the first Start call).
func ExtractTraceparent(ctx context.Context, header http.Header) context.Context {
	return traceparentPropagator.Extract(ctx, propagation.HeaderCarrier(header))
}

// InjectTraceparent writes the active span context from ctx into header as
// a traceparent (and tracestate, if any) header, for propagation to an
// outbound call.
func InjectTraceparent(ctx context.Context, header http.Header) {
	traceparentPropagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// CaptureHeaderPrefix copies every header on header whose name begins with
// prefix (case-insensitive) onto the active span, stripping the prefix and
// converting remaining hyphens to dots, per the Tracing Spine's header-prefix
// capture rule.
func CaptureHeaderPrefix(ctx context.Context, header http.Header, prefix string) {
	if prefix == "" {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	lowerPrefix := strings.ToLower(prefix)
	for name, values := range header {
		lowerName := strings.ToLower(name)
		if !strings.HasPrefix(lowerName, lowerPrefix) {
			continue
		}
		attrName := strings.ReplaceAll(strings.TrimPrefix(lowerName, lowerPrefix), "-", ".")
		if attrName == "" || len(values) == 0 {
			continue
		}
		span.SetAttributes(attribute.String(attrName, values[0]))
	}
}

// StartSpanName composes the span operation name, appending the Signals
// Analyzer's quality flag marker when non-empty.
func StartSpanName(base, flag string) string {
	if flag == "" {
		return base
	}
	return base + "." + flag
}

func init() {
	// The data plane's default global propagator is W3C Trace Context;
	// components that use otel.GetTextMapPropagator directly (rather than
	// the Extract/Inject helpers above) still observe traceparent.
	otel.SetTextMapPropagator(traceparentPropagator)
}
