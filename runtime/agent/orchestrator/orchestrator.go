// Package orchestrator implements the Agent Orchestrator: on each user turn
// it (re)selects one of the declared agents by classifying the last user
// turn against agent descriptions, then forwards the request to that
// agent's URL and streams the response back unchanged except for
// trace-context propagation and signal attachment.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/archplane/core/runtime/agent/classify"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/telemetry"
)

type (
	// AgentSpec declares one agent the orchestrator can select.
	AgentSpec struct {
		ID          string
		Description string
		URL         string
	}

	// AgentError is the structured error surfaced when the selected agent
	// itself returns a 4xx: it is propagated to the caller verbatim rather
	// than translated into a generic failure.
	AgentError struct {
		Agent        string
		Status       int
		AgentResponse json.RawMessage
	}

	// Orchestrator selects and forwards to agents.
	Orchestrator struct {
		agents     []AgentSpec
		classifier *classify.Classifier
		httpClient *http.Client
		clients    map[string]model.Client
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

func (e *AgentError) Error() string {
	return fmt.Sprintf("orchestrator: agent %q returned status %d", e.Agent, e.Status)
}

// ErrNoAgentSelected is returned when no agents are declared, or the
// classifier cannot select among the declared agents and no default exists.
var ErrNoAgentSelected = errors.New("orchestrator: no agent selected")

// ErrAgentUnreachable wraps a connection failure or 5xx response from the
// selected agent; callers surface this as a 502 with diagnostic detail.
var ErrAgentUnreachable = errors.New("orchestrator: agent unreachable")

// WithHTTPClient overrides the HTTP client used to forward requests. The
// default is http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = c }
}

// WithAgentClient registers a streaming-capable model.Client for the agent
// identified by agentID, enabling ForwardStream for that agent. Agents
// fronted only by the unary HTTP path (Forward) need no registration.
func WithAgentClient(agentID string, client model.Client) Option {
	return func(o *Orchestrator) {
		if o.clients == nil {
			o.clients = make(map[string]model.Client)
		}
		o.clients[agentID] = client
	}
}

// New builds an Orchestrator over the declared agents, using classifier to
// pick among them on each turn.
func New(agents []AgentSpec, classifier *classify.Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{agents: agents, classifier: classifier, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Select reruns agent selection against the last user turn in req. Selection
// is never sticky across turns: conversation continuity is the Conversation
// State Store's job, not the orchestrator's.
func (o *Orchestrator) Select(ctx context.Context, req *model.CanonicalRequest) (AgentSpec, error) {
	if len(o.agents) == 0 {
		return AgentSpec{}, ErrNoAgentSelected
	}
	if len(o.agents) == 1 {
		return o.agents[0], nil
	}
	if o.classifier == nil {
		return AgentSpec{}, ErrNoAgentSelected
	}
	candidates := make([]classify.Candidate, len(o.agents))
	for i, a := range o.agents {
		candidates[i] = classify.Candidate{Label: a.ID, Description: a.Description}
	}
	label, ok := o.classifier.Classify(ctx, req.Messages, candidates)
	if !ok {
		return AgentSpec{}, ErrNoAgentSelected
	}
	for _, a := range o.agents {
		if a.ID == label {
			return a, nil
		}
	}
	return AgentSpec{}, ErrNoAgentSelected
}

// Forward sends req to agent's URL and returns its decoded response. A 4xx
// agent response is returned as *AgentError; a 5xx or connection failure is
// wrapped in ErrAgentUnreachable.
func (o *Orchestrator) Forward(ctx context.Context, agent AgentSpec, req *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	telemetry.InjectTraceparent(ctx, httpReq.Header)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: agent %q status %d", ErrAgentUnreachable, agent.ID, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &AgentError{Agent: agent.ID, Status: resp.StatusCode, AgentResponse: respBody}
	}

	var out model.CanonicalResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: decode agent response: %v", ErrAgentUnreachable, err)
	}
	return &out, nil
}

// ForwardStream forwards req and relays the agent's streamed chunks to
// send unchanged. If the agent disconnects mid-stream, the stream closed by
// the caller is treated as a normal end of iteration; this function returns
// the underlying streamer error (if any) to the caller so it can emit the
// incomplete finish-reason chunk and trace the event.
func (o *Orchestrator) ForwardStream(ctx context.Context, agent AgentSpec, req *model.CanonicalRequest, send func(model.ResponseChunk) error) error {
	client, ok := o.agentClient(agent)
	if !ok {
		return fmt.Errorf("%w: agent %q is not a streaming-capable client", ErrAgentUnreachable, agent.ID)
	}
	stream, err := client.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	defer func() { _ = stream.Close() }()
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: agent %q stream: %v", ErrAgentUnreachable, agent.ID, err)
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
}

// agentClient resolves an AgentSpec to a model.Client capable of streaming.
// The default HTTP forwarding path only supports unary Forward; a caller
// that needs ForwardStream must register a streaming-capable model.Client
// for that agent ahead of time via WithAgentClient.
func (o *Orchestrator) agentClient(agent AgentSpec) (model.Client, bool) {
	if o.clients == nil {
		return nil, false
	}
	c, ok := o.clients[agent.ID]
	return c, ok
}
