package brightstaff

import (
	"context"
	"errors"
	"fmt"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/orchestrator"
	"github.com/archplane/core/runtime/agent/router"
	"github.com/archplane/core/runtime/agent/session"
)

type (
	// filterChainInput is the engine.ActivityRequest input for
	// ActivityRunFilterChain.
	filterChainInput struct {
		Request *model.CanonicalRequest
	}

	// selectAgentInput is the input for ActivitySelectAgent.
	selectAgentInput struct {
		Request *model.CanonicalRequest
	}

	// forwardAgentInput is the input for ActivityForwardAgent.
	forwardAgentInput struct {
		Agent   orchestrator.AgentSpec
		Request *model.CanonicalRequest
	}

	// forwardAgentOutput carries the outcome of forwarding to an agent as
	// plain data rather than a Go error, so a 4xx agent response (a normal,
	// expected outcome under the propagation policy) does not fail or retry
	// the activity the way a transport error does.
	forwardAgentOutput struct {
		Response    *model.CanonicalResponse
		AgentError  *AgentErrorPayload
		Unreachable string
	}

	// AgentErrorPayload is the serializable form of *orchestrator.AgentError.
	AgentErrorPayload struct {
		Agent         string
		Status        int
		AgentResponse []byte
	}

	// routeModelInput is the input for ActivityRouteModel.
	routeModelInput struct {
		Request *model.CanonicalRequest
	}

	// callModelInput is the input for ActivityCallModel.
	callModelInput struct {
		Ref     router.ModelRef
		Request *model.CanonicalRequest
	}

	// callModelOutput mirrors forwardAgentOutput's data-not-error pattern for
	// provider failures.
	callModelOutput struct {
		Response    *model.CanonicalResponse
		Unreachable string
	}

	// getConversationStateInput is the input for
	// ActivityGetConversationState.
	getConversationStateInput struct {
		ResponseID string
	}

	// getConversationStateOutput reports NotFound as data: the workflow
	// treats it as a cache miss rather than failing the activity.
	getConversationStateOutput struct {
		Row   session.Row
		Found bool
	}

	// putConversationStateInput is the input for
	// ActivityPutConversationState.
	putConversationStateInput struct {
		Row session.Row
	}
)

func (c *Controller) runFilterChainActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(filterChainInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityRunFilterChain, input)
	}
	outcome, err := c.filterEngine().Run(ctx, in.Request)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (c *Controller) selectAgentActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(selectAgentInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivitySelectAgent, input)
	}
	if c.orchestrator == nil {
		return nil, orchestrator.ErrNoAgentSelected
	}
	return c.orchestrator.Select(ctx, in.Request)
}

func (c *Controller) forwardAgentActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(forwardAgentInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityForwardAgent, input)
	}
	resp, err := c.orchestrator.Forward(ctx, in.Agent, in.Request)
	if err == nil {
		return forwardAgentOutput{Response: resp}, nil
	}
	var agentErr *orchestrator.AgentError
	if errors.As(err, &agentErr) {
		return forwardAgentOutput{AgentError: &AgentErrorPayload{
			Agent:         agentErr.Agent,
			Status:        agentErr.Status,
			AgentResponse: agentErr.AgentResponse,
		}}, nil
	}
	if errors.Is(err, orchestrator.ErrAgentUnreachable) {
		return forwardAgentOutput{Unreachable: err.Error()}, nil
	}
	return nil, err
}

func (c *Controller) routeModelActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(routeModelInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityRouteModel, input)
	}
	if c.router == nil {
		return nil, router.ErrNoRouteAvailable
	}
	return c.router.Route(ctx, in.Request, c.routingPolicy)
}

func (c *Controller) callModelActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(callModelInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityCallModel, input)
	}
	client, ok := c.models[in.Ref.Provider]
	if !ok {
		return nil, fmt.Errorf("brightstaff: no model client registered for provider %q", in.Ref.Provider)
	}
	req := *in.Request
	req.Model = in.Ref.Model
	resp, err := client.Complete(ctx, &req)
	if err != nil {
		return callModelOutput{Unreachable: err.Error()}, nil
	}
	return callModelOutput{Response: resp}, nil
}

func (c *Controller) getConversationStateActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(getConversationStateInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityGetConversationState, input)
	}
	if c.sessionStore == nil {
		return getConversationStateOutput{}, nil
	}
	row, err := c.sessionStore.Get(ctx, in.ResponseID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return getConversationStateOutput{}, nil
		}
		return nil, err
	}
	return getConversationStateOutput{Row: row, Found: true}, nil
}

func (c *Controller) putConversationStateActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(putConversationStateInput)
	if !ok {
		return nil, fmt.Errorf("brightstaff: %s: unexpected input type %T", ActivityPutConversationState, input)
	}
	if c.sessionStore == nil {
		return nil, nil
	}
	if err := c.sessionStore.Put(ctx, in.Row); err != nil {
		return nil, err
	}
	return nil, nil
}
