// Package brightstaff implements the Brightstaff controller: the per-request
// control plane that ties the Filter-Chain Engine, Agent Orchestrator,
// Router, Conversation State Store, Signals Analyzer, and Tracing Spine
// together into the data flow described for the prompt-listener path:
// Filter-Chain -> Agent Orchestrator OR Router -> optional model call.
//
// The decision sequence runs as a single Temporal workflow execution per
// inbound request (see runtime/agent/engine), so that filter-chain/routing
// fan-out, cancellation on client disconnect, and drain-on-SIGTERM get
// durable, replayable semantics instead of a bespoke goroutine scheduler.
// Controller has no separate streaming entry point: every request runs
// through the registered workflow and its result comes back as one Response.
package brightstaff

import (
	"context"
	"fmt"

	"github.com/archplane/core/runtime/agent/filterchain"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/orchestrator"
	"github.com/archplane/core/runtime/agent/router"
	"github.com/archplane/core/runtime/agent/session"
	"github.com/archplane/core/runtime/agent/telemetry"

	"github.com/archplane/core/runtime/agent/engine"
)

// Activity names registered with the workflow engine. Generated listener
// wiring and tests reference these by name when building engine.ActivityRequest
// values outside the workflow function itself.
const (
	ActivityRunFilterChain       = "brightstaff.run_filter_chain"
	ActivitySelectAgent          = "brightstaff.select_agent"
	ActivityForwardAgent         = "brightstaff.forward_agent"
	ActivityRouteModel           = "brightstaff.route_model"
	ActivityCallModel            = "brightstaff.call_model"
	ActivityGetConversationState = "brightstaff.get_conversation_state"
	ActivityPutConversationState = "brightstaff.put_conversation_state"

	// WorkflowName is the logical workflow registered with the engine for
	// the prompt-listener ingress path.
	WorkflowName = "brightstaff.request"
)

type (
	// Controller owns the components a Brightstaff request fans out to and
	// exposes them as a workflow and its activities (Register).
	Controller struct {
		filters      []filterchain.FilterSpec
		dial         func(filterchain.FilterSpec) (filterchain.Invoker, error)
		orchestrator *orchestrator.Orchestrator
		router       *router.Router
		routingPolicy router.Policy
		sessionStore session.Store

		// models holds a streaming/unary-capable client per provider id for
		// the optional direct LLM call step. A provider with no registered
		// client means the router's decision is handed off to the caller as
		// a routing result (provider/model header) rather than invoked here.
		models map[router.ProviderID]model.Client

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		taskQueue string
	}

	// Option configures a Controller.
	Option func(*Controller)
)

// WithModelClient registers a direct model.Client for providerID, enabling
// Brightstaff to perform the optional LLM call itself for requests routed to
// that provider instead of handing the routing decision off to a separate
// LLM-listener hop.
func WithModelClient(providerID router.ProviderID, client model.Client) Option {
	return func(c *Controller) {
		if c.models == nil {
			c.models = make(map[router.ProviderID]model.Client)
		}
		c.models[providerID] = client
	}
}

// WithTelemetry overrides the logger/metrics/tracer used by the controller
// and the activities it registers. The zero value uses telemetry's no-ops.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
		if metrics != nil {
			c.metrics = metrics
		}
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithTaskQueue overrides the default task queue workflows and activities
// register on.
func WithTaskQueue(queue string) Option {
	return func(c *Controller) { c.taskQueue = queue }
}

// DefaultTaskQueue is the task queue used when WithTaskQueue is not supplied.
const DefaultTaskQueue = "brightstaff.requests"

// New builds a Controller. filters and dial configure the Filter-Chain
// Engine; orch and rtr are the (possibly nil, when this deployment only
// exercises the other path) Agent Orchestrator and Router; policy is the
// routing policy evaluated on every Router.Route call; store is the
// Conversation State Store backend.
func New(
	filters []filterchain.FilterSpec,
	dial func(filterchain.FilterSpec) (filterchain.Invoker, error),
	orch *orchestrator.Orchestrator,
	rtr *router.Router,
	policy router.Policy,
	store session.Store,
	opts ...Option,
) *Controller {
	c := &Controller{
		filters:       filters,
		dial:          dial,
		orchestrator:  orch,
		router:        rtr,
		routingPolicy: policy,
		sessionStore:  store,
		logger:        telemetry.NewNoopLogger(),
		metrics:       telemetry.NewNoopMetrics(),
		tracer:        telemetry.NoopTracer{},
		taskQueue:     DefaultTaskQueue,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds the workflow and every activity the workflow depends on to
// eng, using the controller's configured task queue as their default. Call
// once per engine instance during process startup, before starting workers.
func (c *Controller) Register(ctx context.Context, eng engine.Engine) error {
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      WorkflowName,
		TaskQueue: c.taskQueue,
		Handler:   c.ExecuteWorkflow,
	}); err != nil {
		return fmt.Errorf("brightstaff: register workflow: %w", err)
	}

	activities := []engine.ActivityDefinition{
		{Name: ActivityRunFilterChain, Handler: c.runFilterChainActivity},
		{Name: ActivitySelectAgent, Handler: c.selectAgentActivity},
		{Name: ActivityForwardAgent, Handler: c.forwardAgentActivity},
		{Name: ActivityRouteModel, Handler: c.routeModelActivity},
		{Name: ActivityCallModel, Handler: c.callModelActivity},
		{Name: ActivityGetConversationState, Handler: c.getConversationStateActivity},
		{Name: ActivityPutConversationState, Handler: c.putConversationStateActivity},
	}
	for _, def := range activities {
		if err := eng.RegisterActivity(ctx, def); err != nil {
			return fmt.Errorf("brightstaff: register activity %q: %w", def.Name, err)
		}
	}
	return nil
}

// filterEngine lazily builds the filterchain.Engine over the controller's
// configured filters and dialer. It is cheap to construct so activities
// build a fresh one per invocation rather than caching connections across
// requests.
func (c *Controller) filterEngine() *filterchain.Engine {
	return filterchain.New(c.filters, c.dial)
}
