package gemini

import (
	"context"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/archplane/core/runtime/agent/model"
)

// geminiStreamer adapts a genai GenerateContentStream iterator to the
// model.Streamer interface. Function calls are tracked per ID and name; each
// FunctionCall part carries complete arguments, which replace any earlier
// arguments for the same call, and the calls are emitted on the finish reason.
type geminiStreamer struct {
	next func() (*genai.GenerateContentResponse, error, bool)

	chunks chan model.ResponseChunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopSeq  func()
}

func newGeminiStreamer(seq iter.Seq2[*genai.GenerateContentResponse, error]) model.Streamer {
	next, stop := iter.Pull2(seq)
	ctx, cancel := context.WithCancel(context.Background())
	s := &geminiStreamer{
		next:    next,
		stopSeq: stop,
		chunks:  make(chan model.ResponseChunk, 32),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.run()
	return s
}

func (s *geminiStreamer) Recv() (model.ResponseChunk, error) {
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

func (s *geminiStreamer) Close() error {
	s.cancel()
	s.stopOnce.Do(s.stopSeq)
	return nil
}

func (s *geminiStreamer) Metadata() map[string]any { return nil }

func (s *geminiStreamer) run() {
	defer close(s.chunks)
	defer s.stopOnce.Do(s.stopSeq)

	accum := map[string]*toolCallAccum{}
	var order []string

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}

		resp, err, ok := s.next()
		if !ok {
			s.setErr(nil)
			return
		}
		if err != nil {
			s.setErr(err)
			return
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
			usage := model.TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
			if err := s.emit(model.ResponseChunk{Type: model.ResponseChunkTypeUsage, UsageDelta: &usage}); err != nil {
				s.setErr(err)
				return
			}
		}

		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand == nil {
			continue
		}

		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				if p.Text != "" {
					if err := s.emit(model.ResponseChunk{
						Type: model.ResponseChunkTypeText,
						Message: &model.Message{
							Role:  model.ConversationRoleAssistant,
							Parts: []model.Part{model.TextPart{Text: p.Text}},
						},
					}); err != nil {
						s.setErr(err)
						return
					}
				}
				if p.FunctionCall != nil {
					fc := p.FunctionCall
					key := fc.ID + "/" + fc.Name
					acc, seen := accum[key]
					if !seen {
						acc = &toolCallAccum{id: fc.ID, name: fc.Name}
						accum[key] = acc
						order = append(order, key)
					}
					acc.arguments = string(marshalArgs(fc.Args))
					if err := s.emit(model.ResponseChunk{
						Type: model.ResponseChunkTypeToolCallDelta,
						ToolCallDelta: &model.ToolCallDelta{
							Name:  acc.name,
							ID:    acc.id,
							Delta: acc.arguments,
						},
					}); err != nil {
						s.setErr(err)
						return
					}
				}
			}
		}

		if cand.FinishReason != "" {
			for _, key := range order {
				acc := accum[key]
				if acc == nil {
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
			accum = map[string]*toolCallAccum{}
			order = nil
			if err := s.emit(model.ResponseChunk{
				Type:       model.ResponseChunkTypeStop,
				StopReason: string(cand.FinishReason),
			}); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *geminiStreamer) emit(chunk model.ResponseChunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *geminiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *geminiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
