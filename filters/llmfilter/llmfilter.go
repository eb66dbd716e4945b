// Package llmfilter implements the LLM Filter (spec §4.4): the sandboxed
// HTTP stream interceptor on the core-to-provider egress path. It shares
// filters/sandbox's cooperative per-stream contract with the Prompt Filter,
// but its out-of-band call is the provider invocation itself rather than a
// call back to Brightstaff: Filter decodes the buffered canonical request,
// consults the Rate Limiter, and — once admitted — suspends the stream on a
// model.Client.Complete call routed to the provider the router already
// resolved (carried in the x-arch-llm-provider tie-break header). The
// streaming half of the contract (responsibilities 3 and 4: translate
// response chunks back to canonical shape, record time-to-first-token and
// total latency, attach usage to the active span) is implemented by
// StreamRelay, since a progressively emitted sequence of chunks does not
// fit the single Decision a sandbox.Filter callback returns.
package llmfilter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/archplane/core/filters/sandbox"
	"github.com/archplane/core/internal/planeerr"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/ratelimit"
	"github.com/archplane/core/runtime/agent/telemetry"
)

// ProviderHeader is the tie-break header the router sets once it has
// resolved an alias to a concrete provider/model id, per spec §4.4.
const ProviderHeader = "x-arch-llm-provider"

// Config is process-wide immutable state shared across every Stream.
type Config struct {
	// Clients maps a resolved provider id to the model.Client that speaks
	// its wire format.
	Clients map[string]model.Client

	// Limiter gates admission per provider before any outbound call.
	Limiter *ratelimit.Limiter

	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	Timeout time.Duration
}

// Filter implements sandbox.Filter for the non-streaming egress request
// path: rate-limit admission followed by a suspended provider call.
type Filter struct {
	cfg Config

	provider    string
	buf         []byte
	start       time.Time
	toolSchemas *model.ToolSchemaValidator
}

// New builds a Filter bound to one Stream.
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg, start: time.Now()}
}

// OnHeaders captures the tie-break provider header. The LLM Filter has no
// pass-through case: every stream it sees targets a model provider.
func (f *Filter) OnHeaders(_ context.Context, _, _ string, header http.Header) bool {
	f.provider = header.Get(ProviderHeader)
	return false
}

// OnBodyChunk accumulates the outgoing canonical request and, at
// end-of-stream, admits it against the Rate Limiter before suspending on
// the provider call.
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

	if len(req.Tools) > 0 {
		validator, schemaErr := model.NewToolSchemaValidator(req.Tools)
		if schemaErr != nil {
			pe := planeerr.ConfigurationError(schemaErr.Error())
			body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": pe.Message})
			return &sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: pe.HTTPStatus, Body: body}, nil, nil
		}
		f.toolSchemas = validator
	}

	if f.cfg.Limiter != nil {
		cost := ratelimit.EstimateCost(&req)
		decision := f.cfg.Limiter.Admit(f.provider, cost)
		if !decision.Admitted {
			pe := planeerr.RateLimited(fmt.Sprintf("provider %q is rate limited", f.provider))
			body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": pe.Message})
			header := http.Header{}
			header.Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			return &sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: http.StatusTooManyRequests, Header: header, Body: body}, nil, nil
		}
	}

	call := &sandbox.OutOfBandCall{
		Method:  http.MethodPost,
		URL:     f.provider,
		Header:  http.Header{ProviderHeader: []string{f.provider}},
		Body:    append([]byte(nil), f.buf...),
		Timeout: f.cfg.Timeout,
	}
	return nil, call, nil
}

// OnOutOfBandCallResponse resumes the stream once the suspended provider
// call resolves, attaching usage to the active span for the unary case
// (spec §4.4 responsibility 4's terminal-chunk attachment, here the whole
// response).
func (f *Filter) OnOutOfBandCallResponse(ctx context.Context, resp *sandbox.OutOfBandResponse, err error) (sandbox.Decision, error) {
	if err != nil || resp == nil || resp.Status >= 400 {
		pe := planeerr.UpstreamFailure("model provider unavailable", err)
		body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": pe.Message})
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: pe.HTTPStatus, Body: body}, nil
	}

	var canonical model.CanonicalResponse
	if jsonErr := json.Unmarshal(resp.Body, &canonical); jsonErr != nil {
		pe := planeerr.TranslatorInvariantViolated("malformed provider response", jsonErr)
		body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": pe.Message})
		return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: pe.HTTPStatus, Body: body}, nil
	}

	if f.toolSchemas != nil {
		for i := range canonical.ToolCalls {
			if valErr := f.toolSchemas.Validate(&canonical.ToolCalls[i]); valErr != nil {
				pe := planeerr.TranslatorInvariantViolated("model produced a tool call that violates its declared input schema", valErr)
				body, _ := json.Marshal(map[string]string{"code": pe.Code, "message": pe.Message})
				return sandbox.Decision{Action: sandbox.ActionShortCircuit, Status: pe.HTTPStatus, Body: body}, nil
			}
		}
	}
	if f.cfg.Tracer != nil {
		span := f.cfg.Tracer.Span(ctx)
		span.AddEvent("llm_filter.usage",
			"input_tokens", canonical.Usage.InputTokens,
			"output_tokens", canonical.Usage.OutputTokens,
			"total_tokens", canonical.Usage.TotalTokens,
		)
	}
	return sandbox.Decision{Action: sandbox.ActionAllowWithRewrite, RewrittenBody: resp.Body}, nil
}

// OnDone records the stream's total latency.
func (f *Filter) OnDone(_ context.Context) {
	if f.cfg.Metrics == nil {
		return
	}
	f.cfg.Metrics.RecordTimer("llm_filter.stream.total_latency", time.Since(f.start), "provider", f.provider)
}

// ModelClientCaller adapts Config.Clients to sandbox.OutOfBandCaller: the
// out-of-band call a Filter issues is a model.Client.Complete invocation
// rather than a raw HTTP round trip, so this type is the bridge between
// the sandbox driver's generic Call contract and the translator's
// model.Client contract.
type ModelClientCaller struct {
	Clients map[string]model.Client
}

// Call resolves call's provider (carried in the ProviderHeader) to a
// model.Client and performs the translation + invocation spec §4.4
// responsibility 1 and 2 describe, returning the CanonicalResponse encoded
// as the out-of-band response body.
func (c ModelClientCaller) Call(ctx context.Context, call sandbox.OutOfBandCall) (*sandbox.OutOfBandResponse, error) {
	provider := call.Header.Get(ProviderHeader)
	client, ok := c.Clients[provider]
	if !ok {
		return &sandbox.OutOfBandResponse{Status: http.StatusBadGateway, Body: []byte(fmt.Sprintf(`{"error":"no client registered for provider %q"}`, provider))}, nil
	}
	var req model.CanonicalRequest
	if err := json.Unmarshal(call.Body, &req); err != nil {
		return nil, err
	}
	resp, err := client.Complete(ctx, &req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &sandbox.OutOfBandResponse{Status: http.StatusOK, Body: body}, nil
}
