// Package translator defines the provider-agnostic wire-format translation
// contract: a to_canonical/from_canonical pair per provider, the errors they
// may return, and the state machine that governs a streamed translation.
// Concrete providers live in subpackages (anthropic, bedrock, openai,
// gemini, mistral); each one implements model.Client and is the only code
// allowed to construct a provider-specific request or response shape. The
// OpenAI-compatible-generic provider id (Groq, DeepSeek, Together, xAI,
// Azure-OpenAI, Ollama, and Mistral's own compatibility endpoint) is not a
// separate subpackage: openai.Client already accepts an injectable base URL
// for exactly this reason, and mistral wraps it rather than re-implementing
// the Chat Completions wire format.
package translator

import "errors"

// ErrMalformedPayload indicates the provider payload could not be parsed or
// violates the provider's own wire format (not a canonical-model concern).
var ErrMalformedPayload = errors.New("translator: malformed provider payload")

// ErrUnsupportedFeature indicates the canonical request used a feature the
// target provider translator cannot encode. The openai and gemini
// translators return it for an unknown message role or tool-choice mode, and
// the anthropic translator for a tool_use name it cannot map. Part types an
// encoder has no case for are left out of the provider request without an
// error.
var ErrUnsupportedFeature = errors.New("translator: unsupported feature for provider")

// ErrVersionMismatch indicates a provider wire format version the translator
// does not recognize (for example, an unexpected Anthropic API version or an
// OpenAI-Responses event type added after this translator was written).
var ErrVersionMismatch = errors.New("translator: provider wire format version mismatch")

// StreamState is the lifecycle of a single streamed translation: Idle, then
// at most one Headers, then zero or more Body events, then one Done. Advance
// rejects Body after Done and a second Headers, which callers should treat
// as ErrMalformedPayload. The streamers in the provider subpackages do not
// drive their output through StreamState.
type StreamState int

const (
	// StreamIdle is the state before the first event has been read.
	StreamIdle StreamState = iota
	// StreamHeaders is the state after the provider's response headers/
	// preamble (role, model echo, etc.) have been observed but no body
	// content has been emitted yet.
	StreamHeaders
	// StreamBody is the state while incremental content (text, tool-call
	// deltas, usage) is being emitted. A stream may re-enter StreamBody any
	// number of times.
	StreamBody
	// StreamDone is the terminal state once a finish-reason chunk has been
	// observed. No further events are valid after this state.
	StreamDone
)

// Advance validates a state transition and returns the resulting state, or
// an error if the transition is not legal. Callers drive one Advance call
// per observed provider event.
func (s StreamState) Advance(next StreamState) (StreamState, error) {
	switch {
	case s == StreamDone:
		return s, errors.New("translator: stream already done")
	case next == StreamHeaders && s != StreamIdle:
		return s, errors.New("translator: headers event out of order")
	case next == StreamIdle:
		return s, errors.New("translator: cannot transition back to idle")
	default:
		return next, nil
	}
}
