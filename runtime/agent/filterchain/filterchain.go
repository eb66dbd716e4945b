// Package filterchain implements the Filter-Chain Engine: given an ordered
// list of external filters and a canonical request, it invokes each filter in
// turn over HTTP or an MCP tool call, passing the previous filter's output
// message list to the next. A filter may continue the chain with a revised
// message list, terminate it with a client-visible guardrail status, or fail
// it outright.
package filterchain

import (
	"context"
	"fmt"

	"github.com/archplane/core/runtime/agent/model"
)

type (
	// Transport identifies how a filter is invoked.
	Transport int

	// FilterSpec describes one filter in the chain.
	FilterSpec struct {
		// ID names the filter for logging and trace spans.
		ID string
		// Transport selects how Endpoint/Tool is invoked.
		Transport Transport
		// Endpoint is the HTTP URL (TransportHTTP) or MCP session endpoint
		// (TransportMCP) for this filter.
		Endpoint string
		// Tool is the MCP tool name to invoke. Only used when Transport is
		// TransportMCP.
		Tool string
	}

	// Outcome is the terminal result of running a chain: either the chain ran
	// to completion and Messages holds the final message list, or a filter
	// terminated the chain early with a guardrail status and body.
	Outcome struct {
		// Messages is the final message list when the chain completed without
		// any filter terminating it.
		Messages []*model.Message
		// Terminated reports whether a filter ended the chain early (a 4xx /
		// guardrail outcome) rather than letting it run to completion.
		Terminated bool
		// Status is the client-visible HTTP status a terminating filter
		// returned. Zero when Terminated is false.
		Status int
		// Body is the client-visible payload a terminating filter returned.
		Body []byte
		// FilterID names the filter that terminated the chain.
		FilterID string
	}

	// Invoker sends a filter's input message list and returns its decision.
	// HTTP and MCP filters each implement this by constructing a concrete
	// Invoker bound to their FilterSpec.
	Invoker interface {
		Invoke(ctx context.Context, messages []*model.Message) (Decision, error)
	}

	// Decision is what a single filter invocation decided.
	Decision struct {
		// Continue reports whether the chain should proceed to the next
		// filter. When false, Status/Body carry the guardrail outcome.
		Continue bool
		Messages []*model.Message
		Status   int
		Body     []byte
	}

	// Engine runs a configured chain of filters in strict sequential order.
	Engine struct {
		filters []FilterSpec
		dial    func(FilterSpec) (Invoker, error)
	}
)

const (
	// TransportHTTP invokes the filter as a plain HTTP POST of the message
	// list.
	TransportHTTP Transport = iota
	// TransportMCP invokes the filter as an MCP tool call over a
	// streamable-HTTP session.
	TransportMCP
)

// New builds an Engine over the given filter chain. dial constructs (or
// reuses) the Invoker for a filter; New lazily dials the first time a filter
// is actually reached so a chain that terminates early never pays the cost
// of dialing filters after the terminating one.
func New(filters []FilterSpec, dial func(FilterSpec) (Invoker, error)) *Engine {
	return &Engine{filters: filters, dial: dial}
}

// Run executes every filter in order, starting from req.Messages. Idempotence
// is not assumed: if a filter invocation fails outright (transport error,
// crash mid-call), the chain aborts and Run returns ErrFilterFailed wrapping
// the underlying cause; callers propagate this as a fatal 500, matching the
// HTTP 5xx / MCP tool-error semantics.
func (e *Engine) Run(ctx context.Context, req *model.CanonicalRequest) (Outcome, error) {
	messages := req.Messages
	for _, spec := range e.filters {
		invoker, err := e.dial(spec)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: filter %q: dial: %v", ErrFilterFailed, spec.ID, err)
		}
		decision, err := invoker.Invoke(ctx, messages)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: filter %q: %v", ErrFilterFailed, spec.ID, err)
		}
		if !decision.Continue {
			return Outcome{
				Terminated: true,
				Status:     decision.Status,
				Body:       decision.Body,
				FilterID:   spec.ID,
			}, nil
		}
		messages = decision.Messages
	}
	return Outcome{Messages: messages}, nil
}
