package openai

import (
	"context"
	"io"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/archplane/core/runtime/agent/model"
)

// openaiStreamer adapts an OpenAI chat-completions streaming response to the
// model.Streamer interface, accumulating per-index tool-call fragments the
// same way the Chat Completions streaming API delivers them.
type openaiStreamer struct {
	stream *ssestream.Stream[oai.ChatCompletionChunk]

	chunks chan model.ResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	ctx    context.Context
	cancel context.CancelFunc
}

func newOpenAIStreamer(stream *ssestream.Stream[oai.ChatCompletionChunk]) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &openaiStreamer{
		stream: stream,
		chunks: make(chan model.ResponseChunk, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.run()
	return s
}

func (s *openaiStreamer) Recv() (model.ResponseChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.ResponseChunk{}, err
		}
		return model.ResponseChunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.ResponseChunk{}, err
	}
}

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any { return nil }

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	toolCalls := map[int64]*toolCallAccum{}
	var order []int64

	for s.stream.Next() {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		chunk := s.stream.Current()

		if chunk.Usage.TotalTokens != 0 {
			usage := model.TokenUsage{
				InputTokens:     int(chunk.Usage.PromptTokens),
				OutputTokens:    int(chunk.Usage.CompletionTokens),
				TotalTokens:     int(chunk.Usage.TotalTokens),
				CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}
			if err := s.emit(model.ResponseChunk{Type: model.ResponseChunkTypeUsage, UsageDelta: &usage}); err != nil {
				s.setErr(err)
				return
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if err := s.emit(model.ResponseChunk{
				Type: model.ResponseChunkTypeText,
				Message: &model.Message{
					Role:  model.ConversationRoleAssistant,
					Parts: []model.Part{model.TextPart{Text: delta.Content}},
				},
			}); err != nil {
				s.setErr(err)
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			acc, ok := toolCalls[idx]
			if !ok {
				acc = &toolCallAccum{}
				toolCalls[idx] = acc
				order = append(order, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.arguments += tc.Function.Arguments
				if err := s.emit(model.ResponseChunk{
					Type: model.ResponseChunkTypeToolCallDelta,
					ToolCallDelta: &model.ToolCallDelta{
						Name:  acc.name,
						ID:    acc.id,
						Delta: tc.Function.Arguments,
					},
				}); err != nil {
					s.setErr(err)
					return
				}
			}
		}

		if choice.FinishReason != "" {
			for _, idx := range order {
				acc := toolCalls[idx]
				if acc == nil || acc.id == "" {
					continue
				}
				if err := s.emit(model.ResponseChunk{
					Type: model.ResponseChunkTypeToolCall,
					ToolCall: &model.ToolCall{
						Name:    acc.name,
						ID:      acc.id,
						Payload: parseToolArguments(acc.arguments),
					},
				}); err != nil {
					s.setErr(err)
					return
				}
			}
			toolCalls = map[int64]*toolCallAccum{}
			order = nil
			if err := s.emit(model.ResponseChunk{
				Type:       model.ResponseChunkTypeStop,
				StopReason: string(choice.FinishReason),
			}); err != nil {
				s.setErr(err)
				return
			}
		}
	}

	if err := s.stream.Err(); err != nil {
		s.setErr(err)
		return
	}
	s.setErr(nil)
}

func (s *openaiStreamer) emit(chunk model.ResponseChunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolCallAccum struct {
	id        string
	name      string
	arguments string
}
