// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It is also the baseline adapter reused by the
// OpenAI-compatible provider family (Groq, DeepSeek, Together, xAI,
// Azure-OpenAI, Ollama): those providers only change the base URL and
// default model, which is why New accepts an injectable ChatClient instead
// of hard-wiring github.com/openai/openai-go's default HTTP client.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/translator"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter, so Groq/DeepSeek/Together/xAI/Azure-OpenAI/Ollama can be wired
	// in as a ChatClient pointed at a different base URL.
	ChatClient interface {
		New(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
		NewStreaming(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Client is the chat-completions client to use. Required.
		Client ChatClient
		// DefaultModel is used when a CanonicalRequest does not set Model.
		DefaultModel string
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client against the public OpenAI API.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	return NewFromAPIKeyAndBaseURL(apiKey, "", defaultModel)
}

// NewFromAPIKeyAndBaseURL constructs a client against an arbitrary base URL,
// the construction helper behind every OpenAI-compatible generic provider
// (Groq, DeepSeek, Together, xAI, Azure-OpenAI, Ollama): each is this same
// client pointed at a different base URL and default model.
func NewFromAPIKeyAndBaseURL(apiKey, baseURL, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	cli := oai.NewClient(reqOpts...)
	return New(Options{Client: cli.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream renders a streamed chat completion, adapting incremental deltas
// into model.ResponseChunk.
func (c *Client) Stream(ctx context.Context, req *model.CanonicalRequest) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}
	return newOpenAIStreamer(stream), nil
}

func (c *Client) prepareRequest(req *model.CanonicalRequest) (*oai.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = param.NewOpt(float64(req.TopP))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.StopSequences) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nil
}

func encodeMessages(msgs []*model.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, m := range msgs {
		if m == nil {
			continue
		}
		text := flattenText(m.Parts)
		switch m.Role {
		case model.ConversationRoleSystem:
			out = append(out, oai.SystemMessage(text))
		case model.ConversationRoleUser:
			out = append(out, oai.UserMessage(text))
		case model.ConversationRoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				asst.Content.OfString = param.NewOpt(text)
			}
			for _, p := range m.Parts {
				tu, ok := p.(model.ToolUsePart)
				if !ok {
					continue
				}
				payload, err := json.Marshal(tu.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool_use[%d] input: %w", i, err)
				}
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tu.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tu.Name,
						Arguments: string(payload),
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.ConversationRoleTool:
			for _, p := range m.Parts {
				tr, ok := p.(model.ToolResultPart)
				if !ok {
					continue
				}
				out = append(out, oai.ToolMessage(stringifyToolResult(tr.Content), tr.ToolUseID))
			}
		default:
			return nil, fmt.Errorf("%w: openai: unsupported message role %q", translator.ErrUnsupportedFeature, m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func flattenText(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func stringifyToolResult(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]oai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %q schema: %w", def.Name, err)
		}
		var schema shared.FunctionParameters
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		out = append(out, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: param.NewOpt(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func encodeToolChoice(choice *model.ToolChoice) (oai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("auto")}, nil
	case model.ToolChoiceModeNone:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("none")}, nil
	case model.ToolChoiceModeAny:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("required")}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return oai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: tool choice mode %q requires a name", choice.Mode)
		}
		return oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return oai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("%w: openai: unsupported tool choice mode %q", translator.ErrUnsupportedFeature, choice.Mode)
	}
}

func translateResponse(resp *oai.ChatCompletion) *model.CanonicalResponse {
	out := &model.CanonicalResponse{}
	for _, choice := range resp.Choices {
		msg := choice.Message
		var parts []model.Part
		if msg.Content != "" {
			parts = append(parts, model.TextPart{Text: msg.Content})
		}
		if len(parts) > 0 {
			out.Content = append(out.Content, model.Message{Role: model.ConversationRoleAssistant, Parts: parts})
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    call.Function.Name,
				Payload: parseToolArguments(call.Function.Arguments),
				ID:      call.ID,
			})
		}
		if out.StopReason == "" {
			out.StopReason = string(choice.FinishReason)
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:      int(resp.Usage.PromptTokens),
		OutputTokens:     int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		CacheReadTokens:  int(resp.Usage.PromptTokensDetails.CachedTokens),
		CacheWriteTokens: 0,
	}
	return out
}

func parseToolArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.RawMessage(raw)
}

func isRateLimited(err error) bool {
	var apierr *oai.Error
	return errors.As(err, &apierr) && apierr.StatusCode == 429
}
