// Package temporal implements a workflow engine adapter backed by Temporal
// (https://temporal.io). It satisfies the generic engine.Engine interface,
// allowing the runtime to orchestrate durable workflows without importing
// the Temporal SDK directly.
//
// # Why Temporal?
//
// Temporal provides durable execution for per-request processing. Each inbound
// request becomes one workflow execution: Temporal ensures the workflow state
// survives process restarts, network failures, and crashes, and replays the
// workflow from event history to produce deterministic execution.
//
// # Constructing an Engine
//
// Use New to create an engine with Temporal client and worker options:
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{
//	        HostPort:  "temporal:7233",
//	        Namespace: "default",
//	    },
//	    WorkerOptions: temporal.WorkerOptions{
//	        TaskQueue: "brightstaff.requests",
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Worker vs Client Mode
//
// The same engine can operate in two modes:
//
//   - Worker mode: polls task queues and executes workflows locally. Use this in
//     processes that run the request workflow.
//
//   - Client mode: submits workflows without local execution. Use this in a
//     process that only starts requests and does not execute them.
//
// Both modes use the same Options; the difference is whether workflows/activities
// are registered before the worker starts.
//
// # Workflow Determinism
//
// Temporal workflows must be deterministic: given the same inputs and event
// history, they must produce the same outputs. This package provides a
// WorkflowContext that exposes only deterministic operations:
//
//   - Now() returns workflow time (not wall clock)
//   - ExecuteActivity and ExecuteActivityAsync schedule activities
//   - SignalChannel returns deterministic signal receivers
//
// Side-effecting work (model calls, filter dispatch, state store access) runs
// inside activities, which are not constrained by determinism. The workflow
// handler coordinates activities and processes their results deterministically.
//
// # OpenTelemetry Integration
//
// The engine automatically installs OTEL interceptors on the Temporal client and
// worker, propagating trace context through workflow and activity boundaries. No
// additional configuration is needed when the runtime is configured with a Tracer.
package temporal
