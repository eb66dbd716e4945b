// Package mistral provides a model.Client for Mistral AI's Chat Completions
// API. Mistral's wire format is OpenAI-compatible, so this package does not
// re-implement request/response translation: it is a thin constructor over
// openai.Client pointed at Mistral's base URL, the same pattern the openai
// package already documents for Groq, DeepSeek, Together, xAI, Azure-OpenAI,
// and Ollama.
package mistral

import (
	"github.com/archplane/core/runtime/agent/translator/openai"
)

// defaultBaseURL is Mistral's OpenAI-compatible Chat Completions endpoint.
const defaultBaseURL = "https://api.mistral.ai/v1"

// New constructs a model.Client for Mistral AI using the given API key and
// default model (for example "mistral-large-latest").
func New(apiKey, defaultModel string) (*openai.Client, error) {
	return openai.NewFromAPIKeyAndBaseURL(apiKey, defaultBaseURL, defaultModel)
}

// NewWithBaseURL constructs a model.Client against a self-hosted or
// regional Mistral-compatible deployment.
func NewWithBaseURL(apiKey, baseURL, defaultModel string) (*openai.Client, error) {
	return openai.NewFromAPIKeyAndBaseURL(apiKey, baseURL, defaultModel)
}
