package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/archplane/core/runtime/agent/engine"
)

type greetInput struct {
	Name string
}

type greetOutput struct {
	Greeting string
}

func TestActivityTypedExecution(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "greet",
		Handler: func(_ context.Context, input any) (any, error) {
			in, _ := input.(*greetInput)
			if in == nil {
				t.Fatal("expected *greetInput")
			}
			return &greetOutput{Greeting: "hello " + in.Name}, nil
		},
	})
	if err != nil {
		t.Fatalf("register activity: %v", err)
	}

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out *greetOutput
			if err2 := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{
				Name:  "greet",
				Input: &greetInput{Name: "brightstaff"},
			}, &out); err2 != nil {
				return nil, err2
			}
			if out == nil || out.Greeting != "hello brightstaff" {
				t.Errorf("unexpected activity output: %+v", out)
			}
			return out, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-1",
		Workflow: "test_workflow",
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	var result *greetOutput
	if err := handle.Wait(ctx, &result); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if result == nil || result.Greeting != "hello brightstaff" {
		t.Fatalf("unexpected workflow result: %+v", result)
	}
}

func TestActivityFutureAsyncExecution(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "greet",
		Handler: func(_ context.Context, input any) (any, error) {
			in, _ := input.(*greetInput)
			return &greetOutput{Greeting: "hi " + in.Name}, nil
		},
	})
	if err != nil {
		t.Fatalf("register activity: %v", err)
	}

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			fut, err2 := wfCtx.ExecuteActivityAsync(wfCtx.Context(), engine.ActivityRequest{
				Name:  "greet",
				Input: &greetInput{Name: "archplane"},
			})
			if err2 != nil {
				return nil, err2
			}
			var out *greetOutput
			if err2 := fut.Get(wfCtx.Context(), &out); err2 != nil {
				return nil, err2
			}
			return out, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-2",
		Workflow: "test_workflow",
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	var result *greetOutput
	if err := handle.Wait(ctx, &result); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if result == nil || result.Greeting != "hi archplane" {
		t.Fatalf("unexpected workflow result: %+v", result)
	}
}

type pauseSignal struct {
	RunID  string
	Reason string
}

func TestSignalTypedDelivery(t *testing.T) {
	eng := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var sig pauseSignal
			if err2 := wfCtx.SignalChannel("pause").Receive(wfCtx.Context(), &sig); err2 != nil {
				return nil, err2
			}
			if sig.RunID != "test-run-3" || sig.Reason != "human" {
				t.Errorf("unexpected pause signal: %+v", sig)
			}
			return &sig, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-3",
		Workflow: "test_workflow",
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	err = handle.Signal(ctx, "pause", pauseSignal{RunID: "test-run-3", Reason: "human"})
	if err != nil {
		t.Fatalf("signal workflow: %v", err)
	}

	var result pauseSignal
	if err := handle.Wait(ctx, &result); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
}
