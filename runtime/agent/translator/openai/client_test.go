package openai

import (
	"context"
	"encoding/json"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/archplane/core/runtime/agent/model"
)

type stubChatClient struct {
	lastParams oai.ChatCompletionNewParams
	resp       *oai.ChatCompletion
	err        error

	stream *ssestream.Stream[oai.ChatCompletionChunk]
}

func (s *stubChatClient) New(_ context.Context, params oai.ChatCompletionNewParams, _ ...option.RequestOption) (*oai.ChatCompletion, error) {
	s.lastParams = params
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, params oai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk] {
	s.lastParams = params
	if s.stream == nil {
		s.stream = ssestream.NewStream[oai.ChatCompletionChunk](&noopDecoder{}, nil)
	}
	return s.stream
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestClientComplete(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message: oai.ChatCompletionMessage{
					Role:    "assistant",
					Content: "hi there",
					ToolCalls: []oai.ChatCompletionMessageToolCall{
						{
							ID: "call_1",
							Function: oai.ChatCompletionMessageToolCallFunction{
								Name:      "lookup",
								Arguments: `{"query":"docs"}`,
							},
						},
					},
				},
			},
		},
		Usage: oai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	req := &model.CanonicalRequest{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
		Tools: []*model.ToolDefinition{{
			Name:        "lookup",
			Description: "Search",
			InputSchema: map[string]any{"type": "object"},
		}},
	}

	resp, err := cl.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected 1 content message, got %d", len(resp.Content))
	}
	found := false
	for _, p := range resp.Content[0].Parts {
		if tp, ok := p.(model.TextPart); ok && tp.Text == "hi there" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hi there text part")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected lookup tool call, got %+v", resp.ToolCalls)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Payload, &payload); err != nil || payload["query"] != "docs" {
		t.Fatalf("unexpected tool call payload: %s", resp.ToolCalls[0].Payload)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("expected stop reason stop, got %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected total tokens 15, got %d", resp.Usage.TotalTokens)
	}

	if string(stub.lastParams.Model) != "gpt-4o" {
		t.Fatalf("expected model gpt-4o, got %q", stub.lastParams.Model)
	}
	if len(stub.lastParams.Messages) != 1 {
		t.Fatalf("expected 1 encoded message, got %d", len(stub.lastParams.Messages))
	}
	if len(stub.lastParams.Tools) != 1 {
		t.Fatalf("expected 1 encoded tool, got %d", len(stub.lastParams.Tools))
	}
}

func TestClientCompleteWithToolChoiceTool(t *testing.T) {
	stub := &stubChatClient{resp: &oai.ChatCompletion{}}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &model.CanonicalRequest{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
		Tools: []*model.ToolDefinition{{
			Name:        "lookup",
			Description: "Search",
			InputSchema: map[string]any{"type": "object"},
		}},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "lookup"},
	}

	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	tc := stub.lastParams.ToolChoice
	if tc.OfChatCompletionNamedToolChoice == nil {
		t.Fatalf("expected named tool choice, got %+v", tc)
	}
	if tc.OfChatCompletionNamedToolChoice.Function.Name != "lookup" {
		t.Fatalf("expected tool choice name lookup, got %q", tc.OfChatCompletionNamedToolChoice.Function.Name)
	}
}

func TestClientCompleteWithToolChoiceNone(t *testing.T) {
	stub := &stubChatClient{resp: &oai.ChatCompletion{}}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &model.CanonicalRequest{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceModeNone},
	}

	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	tc := stub.lastParams.ToolChoice
	if tc.OfAuto.Value != "none" {
		t.Fatalf("expected tool choice none, got %+v", tc)
	}
}

func TestClientRequiresDefaultModel(t *testing.T) {
	if _, err := New(Options{Client: &stubChatClient{}}); err == nil {
		t.Fatalf("expected error for missing default model")
	}
}
