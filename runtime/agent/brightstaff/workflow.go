package brightstaff

import (
	"fmt"

	"github.com/archplane/core/runtime/agent/engine"
	"github.com/archplane/core/runtime/agent/filterchain"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/orchestrator"
	"github.com/archplane/core/runtime/agent/router"
	"github.com/archplane/core/runtime/agent/session"
	"github.com/archplane/core/runtime/agent/signals"
	"github.com/archplane/core/runtime/agent/telemetry"
)

// PathKind selects which half of "Agent Orchestrator OR Router" a request
// takes once the filter chain has run to completion.
type PathKind string

const (
	// PathAgent routes the request through agent selection and forwarding.
	PathAgent PathKind = "agent"
	// PathModel routes the request through the model router, optionally
	// followed by a direct model call.
	PathModel PathKind = "model"
)

type (
	// Request is the input to ExecuteWorkflow: one inbound prompt-listener
	// call, plus the previous response id to resolve against the
	// Conversation State Store when the caller supplied one.
	Request struct {
		RunID              string
		Path               PathKind
		Canonical          *model.CanonicalRequest
		PreviousResponseID string
	}

	// Response is the result of one Brightstaff workflow execution.
	Response struct {
		// Terminated reports whether a filter short-circuited the chain
		// with a guardrail outcome; Status/Body carry its response and
		// Canonical/ResponseID are left zero.
		Terminated bool
		Status     int
		Body       []byte
		FilterID   string

		// Canonical carries the selected agent's or model's response when
		// the chain ran to completion and a synchronous result was
		// produced.
		Canonical *model.CanonicalResponse

		// AgentErr carries a 4xx response from the selected agent,
		// propagated verbatim per the orchestrator's failure semantics.
		AgentErr *AgentErrorPayload

		// Unreachable carries a 502-class failure message from the
		// selected agent or model provider.
		Unreachable string

		// Routed carries the router's decision on the model path. When no
		// direct model client is registered for the resolved provider it is
		// the only result, so the caller can hand the request off to the
		// separate LLM-listener hop via header.
		Routed *router.ModelRef

		// ResponseID is the freshly minted response id written to the
		// Conversation State Store, when a response was produced and
		// committed.
		ResponseID string

		Signals signals.SignalBundle
	}
)

// ExecuteWorkflow is the workflow entry point registered with the engine. It
// implements the prompt-listener data flow: merge conversation state,
// run the filter chain, compute signals over the filtered message list,
// select an agent or resolve a route, optionally call the model, and commit
// the new conversation-state row.
func (c *Controller) ExecuteWorkflow(wfCtx engine.WorkflowContext, input any) (any, error) {
	req, ok := input.(Request)
	if !ok {
		return nil, fmt.Errorf("brightstaff: unexpected workflow input type %T", input)
	}
	if req.Canonical == nil {
		return nil, fmt.Errorf("brightstaff: request carries no canonical request")
	}
	ctx := wfCtx.Context()
	logger := wfCtx.Logger()

	messages := req.Canonical.Messages
	if req.PreviousResponseID != "" {
		var stateOut getConversationStateOutput
		if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name:  ActivityGetConversationState,
			Input: getConversationStateInput{ResponseID: req.PreviousResponseID},
		}, &stateOut); err != nil {
			return nil, fmt.Errorf("brightstaff: get conversation state: %w", err)
		}
		if stateOut.Found {
			messages = session.MergeInputItems(stateOut.Row, messages)
		}
		// A miss here is treated identically to "no prior context" (see
		// session.ErrNotFound): the new turn runs without merged history.
	}
	mergedReq := *req.Canonical
	mergedReq.Messages = messages

	var outcome filterchain.Outcome
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityRunFilterChain,
		Input: filterChainInput{Request: &mergedReq},
	}, &outcome); err != nil {
		logger.Error(ctx, "filter chain failed", "run_id", req.RunID, "error", err)
		return nil, fmt.Errorf("brightstaff: filter chain: %w", err)
	}
	if outcome.Terminated {
		logger.Info(ctx, "filter chain terminated", "run_id", req.RunID, "filter_id", outcome.FilterID, "status", outcome.Status)
		return &Response{Terminated: true, Status: outcome.Status, Body: outcome.Body, FilterID: outcome.FilterID}, nil
	}
	mergedReq.Messages = outcome.Messages

	bundle := signals.Analyze(mergedReq.Messages)
	flag := ""
	if bundle.Quality == signals.QualityPoor || bundle.Quality == signals.QualitySevere || bundle.Escalation {
		flag = "flagged"
	}
	span := wfCtx.Tracer().Span(ctx)
	span.AddEvent(telemetry.StartSpanName("signals", flag),
		"turn_count", bundle.TurnCount,
		"efficiency", bundle.Efficiency,
		"quality", string(bundle.Quality),
		"escalation", bundle.Escalation,
	)

	resp := &Response{Signals: bundle}
	switch req.Path {
	case PathAgent:
		if err := c.runAgentPath(wfCtx, &mergedReq, resp); err != nil {
			return nil, err
		}
	default:
		if err := c.runModelPath(wfCtx, &mergedReq, resp); err != nil {
			return nil, err
		}
	}

	if resp.Canonical != nil {
		responseID := deterministicResponseID(wfCtx.WorkflowID(), wfCtx.RunID())
		row := session.Row{
			ResponseID: responseID,
			Items:      mergedReq.Messages,
			Model:      mergedReq.Model,
			CreatedAt:  wfCtx.Now().Unix(),
		}
		if resp.Routed != nil {
			row.Provider = string(resp.Routed.Provider)
		}
		if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name:  ActivityPutConversationState,
			Input: putConversationStateInput{Row: row},
		}, new(any)); err != nil {
			return nil, fmt.Errorf("brightstaff: put conversation state: %w", err)
		}
		resp.ResponseID = responseID
	}

	return resp, nil
}

func (c *Controller) runAgentPath(wfCtx engine.WorkflowContext, req *model.CanonicalRequest, resp *Response) error {
	ctx := wfCtx.Context()
	var agent orchestrator.AgentSpec
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivitySelectAgent,
		Input: selectAgentInput{Request: req},
	}, &agent); err != nil {
		return fmt.Errorf("brightstaff: select agent: %w", err)
	}

	var out forwardAgentOutput
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityForwardAgent,
		Input: forwardAgentInput{Agent: agent, Request: req},
	}, &out); err != nil {
		return fmt.Errorf("brightstaff: forward agent: %w", err)
	}
	resp.Canonical = out.Response
	resp.AgentErr = out.AgentError
	resp.Unreachable = out.Unreachable
	return nil
}

func (c *Controller) runModelPath(wfCtx engine.WorkflowContext, req *model.CanonicalRequest, resp *Response) error {
	ctx := wfCtx.Context()
	var ref router.ModelRef
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityRouteModel,
		Input: routeModelInput{Request: req},
	}, &ref); err != nil {
		return fmt.Errorf("brightstaff: route model: %w", err)
	}

	if _, hasClient := c.models[ref.Provider]; !hasClient {
		resp.Routed = &ref
		return nil
	}

	var out callModelOutput
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityCallModel,
		Input: callModelInput{Ref: ref, Request: req},
	}, &out); err != nil {
		return fmt.Errorf("brightstaff: call model: %w", err)
	}
	resp.Canonical = out.Response
	resp.Unreachable = out.Unreachable
	resp.Routed = &ref
	return nil
}

// deterministicResponseID derives a new conversation-state key from the
// workflow's own identifiers rather than a random UUID, so that a replayed
// workflow execution assigns the same response id to the same logical turn.
func deterministicResponseID(workflowID, runID string) string {
	return fmt.Sprintf("%s/%s", workflowID, runID)
}
