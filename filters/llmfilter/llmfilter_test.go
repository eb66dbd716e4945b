package llmfilter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archplane/core/filters/sandbox"
	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/ratelimit"
)

type fakeClient struct {
	resp     *model.CanonicalResponse
	err      error
	streamer model.Streamer
}

func (c *fakeClient) Complete(context.Context, *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	return c.resp, c.err
}

func (c *fakeClient) Stream(context.Context, *model.CanonicalRequest) (model.Streamer, error) {
	return c.streamer, c.err
}

type fakeStreamer struct {
	chunks []model.ResponseChunk
	i      int
}

func (s *fakeStreamer) Recv() (model.ResponseChunk, error) {
	if s.i >= len(s.chunks) {
		return model.ResponseChunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *fakeStreamer) Close() error            { return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

func canonicalRequestBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"Messages": []map[string]any{
			{"Role": "user", "Parts": []map[string]any{{"Kind": "text", "Text": "hi"}}},
		},
	})
	require.NoError(t, err)
	return string(body)
}

func TestFilterAdmitsAndRewritesWithProviderResponse(t *testing.T) {
	client := &fakeClient{resp: &model.CanonicalResponse{Usage: model.TokenUsage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8}}}
	caller := ModelClientCaller{Clients: map[string]model.Client{"openai/gpt-4o": client}}

	f := New(Config{Clients: caller.Clients, Timeout: time.Second})
	body := canonicalRequestBody(t)
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(ProviderHeader, "openai/gpt-4o")

	decision, _, err := sandbox.Run(context.Background(), r, f, caller, 0)
	require.NoError(t, err)
	assert.Equal(t, sandbox.ActionAllowWithRewrite, decision.Action)

	var got model.CanonicalResponse
	require.NoError(t, json.Unmarshal(decision.RewrittenBody, &got))
	assert.Equal(t, 8, got.Usage.TotalTokens)
}

func TestFilterRejectsToolCallViolatingSchema(t *testing.T) {
	client := &fakeClient{resp: &model.CanonicalResponse{
		ToolCalls: []model.ToolCall{{Name: "search", Payload: json.RawMessage(`{"limit":"not-a-number"}`)}},
	}}
	caller := ModelClientCaller{Clients: map[string]model.Client{"openai/gpt-4o": client}}
	f := New(Config{Clients: caller.Clients})

	body, err := json.Marshal(map[string]any{
		"Messages": []map[string]any{
			{"Role": "user", "Parts": []map[string]any{{"Kind": "text", "Text": "hi"}}},
		},
		"Tools": []map[string]any{
			{
				"Name": "search",
				"InputSchema": map[string]any{
					"type":     "object",
					"required": []string{"query"},
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
						"limit": map[string]any{"type": "integer"},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	r.Header.Set(ProviderHeader, "openai/gpt-4o")

	decision, _, err := sandbox.Run(context.Background(), r, f, caller, 0)
	require.NoError(t, err)
	assert.Equal(t, sandbox.ActionShortCircuit, decision.Action)
	assert.Equal(t, http.StatusInternalServerError, decision.Status)
}

func TestFilterDeniesOnRateLimit(t *testing.T) {
	limiter := ratelimit.New()
	limiter.Configure("openai/gpt-4o", ratelimit.ProviderConfig{
		Requests: ratelimit.BucketConfig{Capacity: 1, RefillPerSecond: 0.001},
	})
	// Exhaust the bucket's single slot.
	limiter.Admit("openai/gpt-4o", 1)

	f := New(Config{Limiter: limiter})
	body := canonicalRequestBody(t)
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(ProviderHeader, "openai/gpt-4o")

	decision, _, err := sandbox.Run(context.Background(), r, f, ModelClientCaller{}, 0)
	require.NoError(t, err)
	assert.Equal(t, sandbox.ActionShortCircuit, decision.Action)
	assert.Equal(t, http.StatusTooManyRequests, decision.Status)
	assert.NotEmpty(t, decision.Header.Get("Retry-After"))
}

func TestFilterUpstreamFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("provider unavailable")}
	caller := ModelClientCaller{Clients: map[string]model.Client{"anthropic/claude": client}}

	f := New(Config{Clients: caller.Clients})
	body := canonicalRequestBody(t)
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(ProviderHeader, "anthropic/claude")

	decision, _, err := sandbox.Run(context.Background(), r, f, caller, 0)
	require.NoError(t, err)
	assert.Equal(t, sandbox.ActionShortCircuit, decision.Action)
	assert.Equal(t, http.StatusBadGateway, decision.Status)
}

func TestModelClientCallerUnknownProvider(t *testing.T) {
	caller := ModelClientCaller{Clients: map[string]model.Client{}}
	resp, err := caller.Call(context.Background(), sandbox.OutOfBandCall{
		Header: http.Header{ProviderHeader: []string{"missing/provider"}},
		Body:   []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
}

func TestStreamRelayRecordsFirstTokenAndUsage(t *testing.T) {
	streamer := &fakeStreamer{chunks: []model.ResponseChunk{
		{Type: model.ResponseChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant}},
		{Type: model.ResponseChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant}},
		{Type: model.ResponseChunkTypeStop, StopReason: "end_turn", UsageDelta: &model.TokenUsage{TotalTokens: 42}},
	}}

	relay := NewStreamRelay("openai/gpt-4o", nil, nil)
	var emitted []model.ResponseChunk
	err := relay.Relay(context.Background(), streamer, func(c model.ResponseChunk) error {
		emitted = append(emitted, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, emitted, 3)
	assert.Equal(t, model.ResponseChunkTypeStop, emitted[2].Type)
	assert.True(t, relay.gotFirst)
}
