// Package temporal contains the Temporal engine adapter.
//
// This file defines the Temporal-backed implementation of engine.WorkflowContext.
// The runtime uses it to:
// - execute generic activities with engine-owned queue/timeout/retry defaults,
// - access deterministic workflow time and workflow cancellation,
// - receive external signals in a replay-safe way.
//
// Contract:
//   - Activity option defaults are resolved by name and merged with per-call overrides.
//   - Temporal cancellation errors are normalized to context.Canceled for runtime-wide
//     classification that does not depend on Temporal types.
package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/archplane/core/runtime/agent/engine"
	"github.com/archplane/core/runtime/agent/telemetry"
)

type (
	temporalWorkflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
		baseCtx    context.Context
	}

	contextKey string

	temporalFuture struct {
		future workflow.Future
		ctx    workflow.Context
	}

	temporalSignalChannel struct {
		ctx workflow.Context
		ch  workflow.ReceiveChannel
	}
)

const (
	workflowIDKey contextKey = "temporal.workflow_id"
	runIDKey      contextKey = "temporal.run_id"
)

// NewWorkflowContext adapts a Temporal workflow.Context into the engine.WorkflowContext
// used by generated workflow handlers.
//
// This is intended for workflows that run in the same Temporal worker as the engine
// but are not started through it, and still need engine-owned activity defaults.
func NewWorkflowContext(e *Engine, ctx workflow.Context) engine.WorkflowContext {
	return newTemporalWorkflowContext(e, ctx)
}

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
		// NOTE: workflow execution is distributed and replayed; we cannot rely on
		// any process-local "base context registry" to initialize child workflows.
		// For deterministic behavior, build the base context from scratch and rely
		// on Temporal interceptors/propagators for trace context.
		baseCtx: context.Background(),
	}
	e.trackWorkflowContext(wfCtx.runID, wfCtx)
	return wfCtx
}

// normalizeTemporalError translates Temporal cancellation errors to context.Canceled.
//
// The runtime uses context cancellation to classify cancellations uniformly across
// engine backends without depending on Temporal SDK error types.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func mergeRetryPolicies(base, override engine.RetryPolicy) engine.RetryPolicy {
	result := base
	if override.MaxAttempts != 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialInterval != 0 {
		result.InitialInterval = override.InitialInterval
	}
	if override.BackoffCoefficient != 0 {
		result.BackoffCoefficient = override.BackoffCoefficient
	}
	return result
}

func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}

	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		//nolint:gosec // MaxAttempts is validated at config load time to be reasonable.
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

func (w *temporalWorkflowContext) Context() context.Context {
	ctx := context.WithValue(w.baseCtx, workflowIDKey, w.workflowID)
	ctx = context.WithValue(ctx, runIDKey, w.runID)
	return engine.WithWorkflowContext(ctx, w)
}

func (w *temporalWorkflowContext) SetQueryHandler(name string, handler any) error {
	return workflow.SetQueryHandler(w.ctx, name, handler)
}

func (w *temporalWorkflowContext) WorkflowID() string {
	return w.workflowID
}

func (w *temporalWorkflowContext) RunID() string {
	return w.runID
}

func (w *temporalWorkflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	if req.Name == "" {
		return errors.New("activity name is required")
	}

	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req.Name, req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	if err := fut.Get(actx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	if req.Name == "" {
		return nil, errors.New("activity name is required")
	}

	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req.Name, req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

func (w *temporalWorkflowContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *temporalWorkflowContext) Logger() telemetry.Logger {
	return w.logger
}

func (w *temporalWorkflowContext) Metrics() telemetry.Metrics {
	return w.metrics
}

func (w *temporalWorkflowContext) Tracer() telemetry.Tracer {
	return w.tracer
}

func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

// activityOptionsFor resolves queue/timeout/retry for an activity by merging engine-wide
// defaults registered via RegisterActivity with per-call overrides on the request.
func (w *temporalWorkflowContext) activityOptionsFor(name string, req engine.ActivityRequest) workflow.ActivityOptions {
	defaults := w.engine.activityDefaultsFor(name)

	queue := req.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.engine.defaultQueue
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	if timeout == 0 {
		timeout = time.Minute
	}

	retry := mergeRetryPolicies(defaults.RetryPolicy, req.RetryPolicy)

	return workflow.ActivityOptions{
		// Bound both queue wait time and execution time to the effective timeout.
		// Without ScheduleToStartTimeout, a workflow can block until its run timeout
		// when workers are unavailable, preventing deterministic deadline handling
		// in the runtime.
		ScheduleToStartTimeout: timeout,
		StartToCloseTimeout:    timeout,
		TaskQueue:              queue,
		RetryPolicy:            convertRetryPolicy(retry),
	}
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	if err := f.future.Get(f.ctx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (f *temporalFuture) IsReady() bool {
	return f.future.IsReady()
}

// Receive blocks until a signal value is delivered and decodes it into dest.
//
// Temporal receives signals on the workflow context (not the provided ctx). We still
// honor ctx cancellation before blocking so callers can enforce deadlines in a
// deterministic way.
func (s *temporalSignalChannel) Receive(ctx context.Context, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.ch.Receive(s.ctx, dest)
	return nil
}

// ReceiveAsync attempts to receive a signal value without blocking.
func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}
