// Package promptfilter implements the Prompt Filter (spec §4.3): the
// sandboxed HTTP stream interceptor on the client-to-agent path. It buffers
// the inbound request body, issues a single out-of-band call to Brightstaff
// carrying the buffered body and the captured traceparent, and either
// rewrites the buffered body and lets the stream continue, or synthesizes a
// short-circuit response and terminates it.
package promptfilter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/archplane/core/filters/sandbox"
	"github.com/archplane/core/internal/planeerr"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/telemetry"
)

// ChatEndpoints are the ingress agent-listener paths this filter intercepts;
// any other path is a pass-through (spec §6's agent-listener endpoint list).
var ChatEndpoints = map[string]bool{
	"/v1/chat/completions": true,
	"/v1/messages":         true,
	"/v1/responses":        true,
}

// Decision is the envelope Brightstaff's out-of-band response is expected to
// carry, one of "allow_with_rewrite" or "short_circuit".
type Decision struct {
	Decision string          `json:"Decision"`
	Body     json.RawMessage `json:"Body"`
	Status   int             `json:"Status"`
}

const (
	decisionAllowWithRewrite = "allow_with_rewrite"
	decisionShortCircuit     = "short_circuit"
)

// Config configures one Filter instance's construction. A fresh Filter must
// be built per Stream (see New); Config itself is process-wide immutable
// state shared across every Stream, matching the spec's configuration model.
type Config struct {
	// BrightstaffURL is the endpoint the out-of-band call targets.
	BrightstaffURL string

	// Timeout overrides sandbox.DefaultOutOfBandTimeout when non-zero,
	// the per-listener-configurable deadline from spec §4.3.
	Timeout time.Duration

	// MaxBufferBytes bounds the accumulated request body.
	MaxBufferBytes int

	Metrics telemetry.Metrics
}

// Filter implements sandbox.Filter for a single HTTP stream.
type Filter struct {
	cfg Config

	traceparent string
	buf         []byte
	start       time.Time
}

// New builds a Filter bound to one Stream. Callers construct a new Filter
// per inbound request; Filter carries no state that outlives one Stream.
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg, start: time.Now()}
}

// OnHeaders captures the request's traceparent and reports whether the
// stream should pass through unmodified (any path outside ChatEndpoints).
func (f *Filter) OnHeaders(_ context.Context, _, path string, header http.Header) bool {
	f.traceparent = header.Get("traceparent")
	return !ChatEndpoints[path]
}

// OnBodyChunk accumulates the request body and, once the stream ends,
// parses the canonical shape and issues the out-of-band call to
// Brightstaff.
func (f *Filter) OnBodyChunk(_ context.Context, chunk []byte, endOfStream bool) (*sandbox.Decision, *sandbox.OutOfBandCall, error) {
	if len(chunk) > 0 {
		f.buf = append(f.buf, chunk...)
	}
	if !endOfStream {
		return nil, nil, nil
	}

	var req model.CanonicalRequest
	if err := json.Unmarshal(f.buf, &req); err != nil {
		body, _ := json.Marshal(map[string]string{"error": "malformed request body"})
		return &sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: http.StatusBadRequest, Body: body}, nil, nil
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	if f.traceparent != "" {
		header.Set("traceparent", f.traceparent)
	}
	call := &sandbox.OutOfBandCall{
		Method:  http.MethodPost,
		URL:     f.cfg.BrightstaffURL,
		Header:  header,
		Body:    append([]byte(nil), f.buf...),
		Timeout: f.cfg.Timeout,
	}
	return nil, call, nil
}

// OnOutOfBandCallResponse applies Brightstaff's allow_with_rewrite or
// short_circuit decision, or synthesizes the 502 the spec requires when
// Brightstaff is unavailable within the out-of-band deadline.
func (f *Filter) OnOutOfBandCallResponse(_ context.Context, resp *sandbox.OutOfBandResponse, err error) (sandbox.Decision, error) {
	if err != nil || resp == nil {
		pe := planeerr.UpstreamFailure("brightstaff unavailable", err)
		body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": "brightstaff did not respond within the configured deadline"})
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: pe.HTTPStatus, Body: body}, nil
	}

	var decision Decision
	if jsonErr := json.Unmarshal(resp.Body, &decision); jsonErr != nil {
		body, _ := json.Marshal(map[string]string{"error": "malformed brightstaff decision"})
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: http.StatusBadGateway, Body: body}, nil
	}

	switch decision.Decision {
	case decisionAllowWithRewrite:
		return sandbox.Decision{Action: sandbox.ActionAllowWithRewrite, RewrittenBody: decision.Body}, nil
	case decisionShortCircuit:
		status := decision.Status
		if status == 0 {
			status = http.StatusForbidden
		}
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: status, Body: decision.Body}, nil
	default:
		body, _ := json.Marshal(map[string]string{"error": "unrecognized brightstaff decision"})
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: http.StatusBadGateway, Body: body}, nil
	}
}

// OnDone records the stream's total latency.
func (f *Filter) OnDone(_ context.Context) {
	if f.cfg.Metrics == nil {
		return
	}
	f.cfg.Metrics.RecordTimer("prompt_filter.stream.total_latency", time.Since(f.start))
}
