package gemini

import (
	"context"
	"iter"
	"testing"

	"google.golang.org/genai"

	"github.com/archplane/core/runtime/agent/model"
)

type fakeGenerativeClient struct {
	lastModel    string
	lastContents []*genai.Content
	lastCfg      *genai.GenerateContentConfig

	resp *genai.GenerateContentResponse
	err  error

	streamResps []*genai.GenerateContentResponse
	streamErr   error
}

func (f *fakeGenerativeClient) GenerateContent(_ context.Context, modelID string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastModel = modelID
	f.lastContents = contents
	f.lastCfg = cfg
	return f.resp, f.err
}

func (f *fakeGenerativeClient) GenerateContentStream(_ context.Context, modelID string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.lastModel = modelID
	f.lastContents = contents
	f.lastCfg = cfg
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.streamResps {
			if !yield(r, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func TestClientCompleteTranslatesTextAndToolCall(t *testing.T) {
	fake := &fakeGenerativeClient{}
	cl, err := New(Options{Client: fake, DefaultModel: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fake.resp = &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						genai.NewPartFromText("hi there"),
						{FunctionCall: &genai.FunctionCall{ID: "call_1", Name: "lookup", Args: map[string]any{"query": "docs"}}},
					},
				},
				FinishReason: "STOP",
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}

	req := &model.CanonicalRequest{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "be terse"}}},
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
	if len(resp.Content) != 1 || len(resp.Content[0].Parts) != 1 {
		t.Fatalf("expected one text part, got %+v", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected usage to translate, got %+v", resp.Usage)
	}
	if fake.lastCfg.SystemInstruction == nil {
		t.Fatalf("expected system message to translate to SystemInstruction")
	}
	if len(fake.lastContents) != 1 {
		t.Fatalf("expected system message excluded from contents, got %d entries", len(fake.lastContents))
	}
}

func TestClientCompleteRequiresMessages(t *testing.T) {
	cl, err := New(Options{Client: &fakeGenerativeClient{}, DefaultModel: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Complete(context.Background(), &model.CanonicalRequest{}); err == nil {
		t.Fatalf("expected an error for an empty request")
	}
}

func TestClientStreamEmitsTextToolCallAndStop(t *testing.T) {
	fake := &fakeGenerativeClient{
		streamResps: []*genai.GenerateContentResponse{
			{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText("partial")}},
				}},
			},
			{
				Candidates: []*genai.Candidate{{
					Content:      &genai.Content{Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "call_2", Name: "lookup", Args: map[string]any{"q": "x"}}}}},
					FinishReason: "STOP",
				}},
				UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 7},
			},
		},
	}
	cl, err := New(Options{Client: fake, DefaultModel: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := &model.CanonicalRequest{
		Messages: []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "go"}}}},
	}
	streamer, err := cl.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer streamer.Close()

	var types []string
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			break
		}
		types = append(types, chunk.Type)
	}
	if len(types) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	seen := map[string]bool{}
	for _, ty := range types {
		seen[ty] = true
	}
	if !seen[model.ResponseChunkTypeText] || !seen[model.ResponseChunkTypeToolCall] {
		t.Fatalf("expected text and tool_call chunks, got %v", types)
	}
	last := types[len(types)-1]
	if last != model.ResponseChunkTypeStop {
		t.Fatalf("expected stream to terminate with a stop chunk, got %q", last)
	}
}
