// Package classify implements the preference-aligned label classifier
// shared by the Router (§4.6) and the Agent Orchestrator (§4.7): both pick
// among a set of declared (label, description) pairs by asking a lightweight
// external model to name the best match for the recent conversation, falling
// back to a default whenever the model times out or answers with an unknown
// label.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/archplane/core/runtime/agent/model"
)

type (
	// Candidate is one label a classifier may choose, paired with a
	// human-readable description used to build the classifier prompt. For
	// the Router this is (model-class-label, preference description); for
	// the Agent Orchestrator this is (agent_id, agent description).
	Candidate struct {
		Label       string
		Description string
	}

	// Classifier issues the single-line classification prompt against a
	// lightweight external model.
	Classifier struct {
		client  model.Client
		window  int
		timeout time.Duration
	}

	// Option configures a Classifier.
	Option func(*Classifier)
)

// DefaultWindow is the number of trailing user turns folded into the
// classifier prompt when no explicit window is configured.
const DefaultWindow = 4

// DefaultTimeout is the classifier call's own deadline, independent of any
// deadline on the caller's context.
const DefaultTimeout = time.Second

// WithWindow overrides the number of trailing user turns used to build the
// classification prompt.
func WithWindow(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithTimeout overrides the classifier call's own deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Classifier that issues its prompt against client.
func New(client model.Client, opts ...Option) *Classifier {
	c := &Classifier{client: client, window: DefaultWindow, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the classifier model to pick the best-matching label for the
// trailing user turns in messages among candidates. It returns ok=false
// (never an error for a timeout) when the call times out, the model
// declines to answer, or its answer does not match any candidate label —
// callers treat ok=false as "use the default".
func (c *Classifier) Classify(ctx context.Context, messages []*model.Message, candidates []Candidate) (label string, ok bool) {
	if c.client == nil || len(candidates) == 0 {
		return "", false
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildPrompt(trailingUserTurns(messages, c.window), candidates)
	req := &model.CanonicalRequest{
		Messages: []*model.Message{{
			Role:  model.ConversationRoleUser,
			Parts: []model.Part{model.TextPart{Text: prompt}},
		}},
	}

	resp, err := c.client.Complete(cctx, req)
	if err != nil || resp == nil {
		return "", false
	}
	answer := strings.TrimSpace(firstLine(flattenResponseText(resp)))
	for _, cand := range candidates {
		if strings.EqualFold(cand.Label, answer) {
			return cand.Label, true
		}
	}
	return "", false
}

func trailingUserTurns(messages []*model.Message, n int) []string {
	var turns []string
	for _, m := range messages {
		if m == nil || m.Role != model.ConversationRoleUser {
			continue
		}
		var texts []string
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
				texts = append(texts, tp.Text)
			}
		}
		if len(texts) > 0 {
			turns = append(turns, strings.Join(texts, " "))
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func buildPrompt(turns []string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Classify the conversation below into exactly one label. ")
	b.WriteString("Respond with only the label on a single line, nothing else.\n\nLabels:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", c.Label, c.Description)
	}
	b.WriteString("\nConversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}

func flattenResponseText(resp *model.CanonicalResponse) string {
	var b strings.Builder
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
