package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/classify"
)

func userReq(text string) *model.CanonicalRequest {
	return &model.CanonicalRequest{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: text}}},
		},
	}
}

func TestSelectSingleAgentSkipsClassifier(t *testing.T) {
	o := New([]AgentSpec{{ID: "support", Description: "general support"}}, nil)
	agent, err := o.Select(context.Background(), userReq("hi"))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if agent.ID != "support" {
		t.Fatalf("unexpected agent: %+v", agent)
	}
}

func TestSelectNoAgentsIsError(t *testing.T) {
	o := New(nil, nil)
	_, err := o.Select(context.Background(), userReq("hi"))
	if !errors.Is(err, ErrNoAgentSelected) {
		t.Fatalf("expected ErrNoAgentSelected, got %v", err)
	}
}

func TestSelectMultipleAgentsWithoutClassifierIsError(t *testing.T) {
	o := New([]AgentSpec{{ID: "a"}, {ID: "b"}}, nil)
	_, err := o.Select(context.Background(), userReq("hi"))
	if !errors.Is(err, ErrNoAgentSelected) {
		t.Fatalf("expected ErrNoAgentSelected, got %v", err)
	}
}

// fakeClassifierClient answers every Complete call with a fixed label,
// letting classify.Classifier exercise the orchestrator's selection path
// without a real model behind it.
type fakeClassifierClient struct {
	answer string
}

func (f *fakeClassifierClient) Complete(_ context.Context, _ *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	return &model.CanonicalResponse{
		Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: f.answer}},
		}},
	}, nil
}

func (f *fakeClassifierClient) Stream(_ context.Context, _ *model.CanonicalRequest) (model.Streamer, error) {
	return nil, errors.New("not implemented")
}

func TestSelectUsesClassifierAcrossMultipleAgents(t *testing.T) {
	cl := classify.New(&fakeClassifierClient{answer: "billing"})
	o := New([]AgentSpec{
		{ID: "support", Description: "general support"},
		{ID: "billing", Description: "billing and invoices"},
	}, cl)

	agent, err := o.Select(context.Background(), userReq("why was I charged twice"))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if agent.ID != "billing" {
		t.Fatalf("expected billing agent, got %+v", agent)
	}
}

func TestForwardDecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.CanonicalResponse{
			Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "ok"}}}},
		})
	}))
	defer srv.Close()

	o := New([]AgentSpec{{ID: "support", URL: srv.URL}}, nil)
	resp, err := o.Forward(context.Background(), AgentSpec{ID: "support", URL: srv.URL}, userReq("hi"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestForwardPropagatesAgent4xxVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid input"}`))
	}))
	defer srv.Close()

	o := New(nil, nil)
	_, err := o.Forward(context.Background(), AgentSpec{ID: "support", URL: srv.URL}, userReq("hi"))

	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected *AgentError, got %v", err)
	}
	if agentErr.Status != http.StatusUnprocessableEntity || agentErr.Agent != "support" {
		t.Fatalf("unexpected AgentError: %+v", agentErr)
	}
}

func TestForward5xxIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := New(nil, nil)
	_, err := o.Forward(context.Background(), AgentSpec{ID: "support", URL: srv.URL}, userReq("hi"))
	if !errors.Is(err, ErrAgentUnreachable) {
		t.Fatalf("expected ErrAgentUnreachable, got %v", err)
	}
}

func TestForwardConnectionFailureIsUnreachable(t *testing.T) {
	o := New(nil, nil)
	_, err := o.Forward(context.Background(), AgentSpec{ID: "support", URL: "http://127.0.0.1:0"}, userReq("hi"))
	if !errors.Is(err, ErrAgentUnreachable) {
		t.Fatalf("expected ErrAgentUnreachable, got %v", err)
	}
}

// fakeStreamer emits a fixed sequence of chunks then an io.EOF-equivalent.
type fakeStreamer struct {
	chunks []model.ResponseChunk
	idx    int
}

func (f *fakeStreamer) Recv() (model.ResponseChunk, error) {
	if f.idx >= len(f.chunks) {
		return model.ResponseChunk{}, io.EOF
	}
	c := f.chunks[f.idx]
	f.idx++
	return c, nil
}
func (f *fakeStreamer) Close() error            { return nil }
func (f *fakeStreamer) Metadata() map[string]any { return nil }

type fakeStreamingClient struct {
	streamer *fakeStreamer
}

func (f *fakeStreamingClient) Complete(_ context.Context, _ *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeStreamingClient) Stream(_ context.Context, _ *model.CanonicalRequest) (model.Streamer, error) {
	return f.streamer, nil
}

func TestForwardStreamRelaysChunksUnchanged(t *testing.T) {
	textChunk := func(s string) model.ResponseChunk {
		return model.ResponseChunk{
			Type:    model.ResponseChunkTypeText,
			Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: s}}},
		}
	}
	streamer := &fakeStreamer{chunks: []model.ResponseChunk{
		textChunk("hel"),
		textChunk("lo"),
		{Type: model.ResponseChunkTypeStop, StopReason: "stop"},
	}}
	o := New([]AgentSpec{{ID: "support"}}, nil, WithAgentClient("support", &fakeStreamingClient{streamer: streamer}))

	var received []model.ResponseChunk
	err := o.ForwardStream(context.Background(), AgentSpec{ID: "support"}, userReq("hi"), func(c model.ResponseChunk) error {
		received = append(received, c)
		return nil
	})
	if err != nil {
		t.Fatalf("ForwardStream: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 relayed chunks, got %d", len(received))
	}
}

func TestForwardStreamWithoutRegisteredClientIsUnreachable(t *testing.T) {
	o := New([]AgentSpec{{ID: "support"}}, nil)
	err := o.ForwardStream(context.Background(), AgentSpec{ID: "support"}, userReq("hi"), func(model.ResponseChunk) error { return nil })
	if !errors.Is(err, ErrAgentUnreachable) {
		t.Fatalf("expected ErrAgentUnreachable, got %v", err)
	}
}
