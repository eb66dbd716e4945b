package llmfilter

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/telemetry"
)

// StreamRelay drains a provider model.Streamer and re-emits its chunks
// unchanged (translation already happened inside the Streamer's owning
// model.Client), while recording the two latency metrics spec §4.4
// responsibility 3 requires — time-to-first-token and total latency — and
// attaching final usage to the active span on the terminal chunk
// (responsibility 4). It exists alongside Filter because a sandbox.Filter
// callback returns a single Decision, which cannot carry a progressively
// produced sequence of chunks back to the caller.
type StreamRelay struct {
	provider string
	metrics  telemetry.Metrics
	tracer   telemetry.Tracer

	start        time.Time
	firstTokenAt time.Time
	gotFirst     bool
}

// NewStreamRelay builds a relay for one streamed call to provider.
func NewStreamRelay(provider string, metrics telemetry.Metrics, tracer telemetry.Tracer) *StreamRelay {
	return &StreamRelay{provider: provider, metrics: metrics, tracer: tracer, start: time.Now()}
}

// Relay drains stream, invoking emit for every chunk in order, until a stop
// chunk has been emitted or Recv returns io.EOF or another error. It returns
// the first non-EOF Recv error or emit error, if any, and always calls
// stream.Close before returning.
func (r *StreamRelay) Relay(ctx context.Context, stream model.Streamer, emit func(model.ResponseChunk) error) error {
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.finish(ctx, model.TokenUsage{})
				return nil
			}
			return err
		}

		if !r.gotFirst && chunk.Type == model.ResponseChunkTypeText {
			r.gotFirst = true
			r.firstTokenAt = time.Now()
			if r.metrics != nil {
				r.metrics.RecordTimer("llm_filter.stream.time_to_first_token", r.firstTokenAt.Sub(r.start), "provider", r.provider)
			}
		}

		if emitErr := emit(chunk); emitErr != nil {
			return emitErr
		}

		if chunk.Type == model.ResponseChunkTypeStop {
			usage := TokenUsageFromChunk(chunk)
			r.finish(ctx, usage)
			return nil
		}
	}
}

func (r *StreamRelay) finish(ctx context.Context, usage model.TokenUsage) {
	if r.metrics != nil {
		r.metrics.RecordTimer("llm_filter.stream.total_latency", time.Since(r.start), "provider", r.provider)
	}
	if r.tracer != nil {
		span := r.tracer.Span(ctx)
		span.AddEvent("llm_filter.usage",
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
			"total_tokens", usage.TotalTokens,
		)
	}
}

// TokenUsageFromChunk extracts the usage carried by a terminal chunk's
// UsageDelta, if present.
func TokenUsageFromChunk(chunk model.ResponseChunk) model.TokenUsage {
	if chunk.UsageDelta != nil {
		return *chunk.UsageDelta
	}
	return model.TokenUsage{}
}
