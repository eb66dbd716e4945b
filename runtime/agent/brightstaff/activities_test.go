package brightstaff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/orchestrator"
	"github.com/archplane/core/runtime/agent/router"
	"github.com/archplane/core/runtime/agent/session"
	sessioninmem "github.com/archplane/core/runtime/agent/session/inmem"
)

func TestGetConversationStateActivityMissIsDataNotError(t *testing.T) {
	c := New(nil, noopDial, nil, nil, router.Policy{}, sessioninmem.New())
	out, err := c.getConversationStateActivity(context.Background(), getConversationStateInput{ResponseID: "nope"})
	if err != nil {
		t.Fatalf("expected no error on miss, got %v", err)
	}
	result := out.(getConversationStateOutput)
	if result.Found {
		t.Fatalf("expected Found=false, got %+v", result)
	}
}

func TestGetConversationStateActivityHit(t *testing.T) {
	store := sessioninmem.New()
	if err := store.Put(context.Background(), session.Row{ResponseID: "r1", Model: "claude"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := New(nil, noopDial, nil, nil, router.Policy{}, store)
	out, err := c.getConversationStateActivity(context.Background(), getConversationStateInput{ResponseID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := out.(getConversationStateOutput)
	if !result.Found || result.Row.Model != "claude" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetConversationStateActivityWithoutStoreIsMiss(t *testing.T) {
	c := New(nil, noopDial, nil, nil, router.Policy{}, nil)
	out, err := c.getConversationStateActivity(context.Background(), getConversationStateInput{ResponseID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(getConversationStateOutput).Found {
		t.Fatalf("expected miss when no store is configured")
	}
}

func TestForwardAgentActivityMapsAgentErrorToData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer srv.Close()

	orch := orchestrator.New(nil, nil)
	c := New(nil, noopDial, orch, nil, router.Policy{}, nil)
	agent := orchestrator.AgentSpec{ID: "support", URL: srv.URL}

	out, err := c.forwardAgentActivity(context.Background(), forwardAgentInput{Agent: agent, Request: userReq("hi")})
	if err != nil {
		t.Fatalf("expected no activity error for a 4xx agent response, got %v", err)
	}
	result := out.(forwardAgentOutput)
	if result.AgentError == nil || result.AgentError.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected AgentError payload, got %+v", result)
	}
}

func TestForwardAgentActivityMapsUnreachableToData(t *testing.T) {
	orch := orchestrator.New(nil, nil)
	c := New(nil, noopDial, orch, nil, router.Policy{}, nil)
	agent := orchestrator.AgentSpec{ID: "support", URL: "http://127.0.0.1:0"}

	out, err := c.forwardAgentActivity(context.Background(), forwardAgentInput{Agent: agent, Request: userReq("hi")})
	if err != nil {
		t.Fatalf("expected no activity error for an unreachable agent, got %v", err)
	}
	result := out.(forwardAgentOutput)
	if result.Unreachable == "" {
		t.Fatalf("expected Unreachable to be set, got %+v", result)
	}
}

func TestCallModelActivityMapsProviderFailureToData(t *testing.T) {
	c := New(nil, noopDial, nil, nil, router.Policy{}, nil, WithModelClient("anthropic", failingModelClient{}))
	out, err := c.callModelActivity(context.Background(), callModelInput{
		Ref:     router.ModelRef{Provider: "anthropic", Model: "claude"},
		Request: userReq("hi"),
	})
	if err != nil {
		t.Fatalf("expected no activity error for a provider failure, got %v", err)
	}
	result := out.(callModelOutput)
	if result.Unreachable == "" {
		t.Fatalf("expected Unreachable to be set, got %+v", result)
	}
}

type failingModelClient struct{}

func (failingModelClient) Complete(context.Context, *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	return nil, context.DeadlineExceeded
}

func (failingModelClient) Stream(context.Context, *model.CanonicalRequest) (model.Streamer, error) {
	return nil, context.DeadlineExceeded
}

func TestCallModelActivityNoRegisteredClientIsError(t *testing.T) {
	c := New(nil, noopDial, nil, nil, router.Policy{}, nil)
	_, err := c.callModelActivity(context.Background(), callModelInput{
		Ref:     router.ModelRef{Provider: "anthropic", Model: "claude"},
		Request: userReq("hi"),
	})
	if err == nil {
		t.Fatalf("expected an error when no client is registered for the resolved provider")
	}
}
