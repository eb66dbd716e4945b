// Package gemini provides a model.Client implementation backed by Google's
// Gemini API via google.golang.org/genai. Gemini's wire shape differs from
// the other provider adapters in three ways this package bridges: the
// system prompt travels as GenerateContentConfig.SystemInstruction rather
// than a message in the transcript, assistant turns use role "model" rather
// than "assistant", and safety categories are a provider extension with no
// canonical representation, so this adapter never sets them and relies on
// the API's own defaults instead of inventing a canonical mapping.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/translator"
)

type (
	// GenerativeClient captures the subset of genai.Client.Models used by the
	// adapter, so tests can substitute a fake without a live API key.
	GenerativeClient interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
		GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	}

	// Options configures the Gemini adapter.
	Options struct {
		// Client is the generative client to use. Required.
		Client GenerativeClient
		// DefaultModel is used when a CanonicalRequest does not set Model.
		DefaultModel string
	}

	// Client implements model.Client via the Gemini GenerateContent API.
	Client struct {
		gen   GenerativeClient
		model string
	}

	genaiModels struct {
		c *genai.Client
	}

	toolCallAccum struct {
		id        string
		name      string
		arguments string
	}
)

// New builds a Gemini-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("gemini: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("gemini: default model is required")
	}
	return &Client{gen: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client against the Gemini Developer API.
func NewFromAPIKey(ctx context.Context, apiKey, defaultModel string) (*Client, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return New(Options{Client: &genaiModels{c: cli}, DefaultModel: defaultModel})
}

func (m *genaiModels) GenerateContent(ctx context.Context, modelID string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.c.Models.GenerateContent(ctx, modelID, contents, cfg)
}

func (m *genaiModels) GenerateContentStream(ctx context.Context, modelID string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return m.c.Models.GenerateContentStream(ctx, modelID, contents, cfg)
}

// Complete renders a synchronous generation using the configured Gemini client.
func (c *Client) Complete(ctx context.Context, req *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	modelID, contents, cfg, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.gen.GenerateContent(ctx, modelID, contents, cfg)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream renders a streamed generation, adapting incremental candidates into
// model.ResponseChunk.
func (c *Client) Stream(ctx context.Context, req *model.CanonicalRequest) (model.Streamer, error) {
	modelID, contents, cfg, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	seq := c.gen.GenerateContentStream(ctx, modelID, contents, cfg)
	return newGeminiStreamer(seq), nil
}

func (c *Client) prepareRequest(req *model.CanonicalRequest) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if req == nil || len(req.Messages) == 0 {
		return "", nil, nil, errors.New("gemini: messages are required")
	}
	if err := req.Validate(); err != nil {
		return "", nil, nil, err
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	contents, system, err := encodeMessages(req.Messages)
	if err != nil {
		return "", nil, nil, err
	}
	if len(contents) == 0 {
		return "", nil, nil, errors.New("gemini: at least one message is required")
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		cfg.TopP = &p
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return "", nil, nil, err
	}
	if len(tools) > 0 {
		cfg.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return "", nil, nil, err
		}
		cfg.ToolConfig = tc
	}
	return modelID, contents, cfg, nil
}

func encodeMessages(msgs []*model.Message) ([]*genai.Content, string, error) {
	var system strings.Builder
	var contents []*genai.Content
	for i, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(flattenText(m.Parts))
		case model.ConversationRoleUser:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: userParts(m.Parts)})
		case model.ConversationRoleAssistant:
			parts, err := assistantParts(m.Parts)
			if err != nil {
				return nil, "", fmt.Errorf("gemini: messages[%d]: %w", i, err)
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case model.ConversationRoleTool:
			// Gemini has no dedicated transcript role for tool results; this
			// adapter follows the API's own convention of carrying
			// FunctionResponse parts on a user-role turn.
			parts, err := toolParts(m.Parts)
			if err != nil {
				return nil, "", fmt.Errorf("gemini: messages[%d]: %w", i, err)
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		default:
			return nil, "", fmt.Errorf("%w: gemini: unsupported message role %q", translator.ErrUnsupportedFeature, m.Role)
		}
	}
	return contents, system.String(), nil
}

func userParts(parts []model.Part) []*genai.Part {
	var out []*genai.Part
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextPart:
			out = append(out, genai.NewPartFromText(v.Text))
		case model.ImagePart:
			out = append(out, genai.NewPartFromBytes(v.Bytes, "image/"+string(v.Format)))
		case model.DocumentPart:
			switch {
			case len(v.Bytes) > 0:
				out = append(out, genai.NewPartFromBytes(v.Bytes, documentMIME(v.Format)))
			case v.Text != "":
				out = append(out, genai.NewPartFromText(v.Text))
			}
		}
	}
	return out
}

func assistantParts(parts []model.Part) ([]*genai.Part, error) {
	var out []*genai.Part
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextPart:
			out = append(out, genai.NewPartFromText(v.Text))
		case model.ToolUsePart:
			args, err := toolArgsObject(v.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %q input: %w", v.Name, err)
			}
			out = append(out, &genai.Part{FunctionCall: &genai.FunctionCall{ID: v.ID, Name: v.Name, Args: args}})
		}
	}
	return out, nil
}

func toolArgsObject(input any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	if obj, ok := input.(map[string]any); ok {
		return obj, nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	return obj, nil
}

func toolParts(parts []model.Part) ([]*genai.Part, error) {
	var out []*genai.Part
	for _, p := range parts {
		tr, ok := p.(model.ToolResultPart)
		if !ok {
			continue
		}
		response := map[string]any{"result": tr.Content}
		if tr.IsError {
			response = map[string]any{"error": tr.Content}
		}
		out = append(out, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: tr.ToolUseID, Name: tr.ToolUseID, Response: response}})
	}
	if len(out) == 0 {
		return nil, errors.New("tool message carries no usable ToolResultPart")
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

func documentMIME(format model.DocumentFormat) string {
	switch format {
	case model.DocumentFormatPDF:
		return "application/pdf"
	case model.DocumentFormatHTML:
		return "text/html"
	case model.DocumentFormatMD, model.DocumentFormatTXT, model.DocumentFormatCSV:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]*genai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	var decls []*genai.FunctionDeclaration
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema, err := encodeSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("gemini: tool %q schema: %w", def.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	if len(decls) == 0 {
		return nil, nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func encodeSchema(inputSchema any) (*genai.Schema, error) {
	payload, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(payload, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func encodeToolChoice(choice *model.ToolChoice) (*genai.ToolConfig, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}}, nil
	case model.ToolChoiceModeNone:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}}, nil
	case model.ToolChoiceModeAny:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return nil, fmt.Errorf("gemini: tool choice mode %q requires a name", choice.Mode)
		}
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{choice.Name},
		}}, nil
	default:
		return nil, fmt.Errorf("%w: gemini: unsupported tool choice mode %q", translator.ErrUnsupportedFeature, choice.Mode)
	}
}

func translateResponse(resp *genai.GenerateContentResponse) *model.CanonicalResponse {
	out := &model.CanonicalResponse{}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var parts []model.Part
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			if p.Text != "" {
				parts = append(parts, model.TextPart{Text: p.Text})
			}
			if p.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, model.ToolCall{
					Name:    p.FunctionCall.Name,
					ID:      p.FunctionCall.ID,
					Payload: marshalArgs(p.FunctionCall.Args),
				})
			}
		}
		if len(parts) > 0 {
			out.Content = append(out.Content, model.Message{Role: model.ConversationRoleAssistant, Parts: parts})
		}
		if out.StopReason == "" && cand.FinishReason != "" {
			out.StopReason = string(cand.FinishReason)
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

func marshalArgs(args map[string]any) json.RawMessage {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return payload
}

func parseToolArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.RawMessage(raw)
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	return errors.As(err, &apiErr) && apiErr.Code == 429
}
