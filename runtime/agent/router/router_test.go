package router

import (
	"context"
	"errors"
	"testing"

	"github.com/archplane/core/runtime/agent/model"
)

func TestRouteExplicitModel(t *testing.T) {
	r := New(nil)
	policy := Policy{Models: map[string]ModelRef{"gpt-4o": {Provider: "openai", Model: "gpt-4o"}}}
	ref, err := r.Route(context.Background(), &model.CanonicalRequest{Model: "gpt-4o"}, policy)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ref.Provider != "openai" || ref.Model != "gpt-4o" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestRouteAliasOneLevel(t *testing.T) {
	r := New(nil)
	policy := Policy{
		Models:  map[string]ModelRef{"claude-3-7-sonnet": {Provider: "anthropic", Model: "claude-3-7-sonnet"}},
		Aliases: []Alias{{Name: "smart", Target: "claude-3-7-sonnet"}},
	}
	ref, err := r.Route(context.Background(), &model.CanonicalRequest{Model: "smart"}, policy)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ref.Provider != "anthropic" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestRouteAliasCycleIsConfigError(t *testing.T) {
	r := New(nil)
	policy := Policy{
		Aliases: []Alias{{Name: "a", Target: "b"}, {Name: "b", Target: "a"}},
	}
	_, err := r.Route(context.Background(), &model.CanonicalRequest{Model: "a"}, policy)
	if !errors.Is(err, ErrAliasCycle) {
		t.Fatalf("expected ErrAliasCycle, got %v", err)
	}
}

func TestRouteDefaultFallback(t *testing.T) {
	r := New(nil)
	def := ModelRef{Provider: "openai", Model: "gpt-4o-mini"}
	policy := Policy{Default: &def}
	ref, err := r.Route(context.Background(), &model.CanonicalRequest{}, policy)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ref != def {
		t.Fatalf("expected default ref, got %+v", ref)
	}
}

func TestRouteNoRouteAvailable(t *testing.T) {
	r := New(nil)
	_, err := r.Route(context.Background(), &model.CanonicalRequest{}, Policy{})
	if !errors.Is(err, ErrNoRouteAvailable) {
		t.Fatalf("expected ErrNoRouteAvailable, got %v", err)
	}
}

func TestRoutePreferenceTieBreakUsesConfigOrder(t *testing.T) {
	r := New(nil)
	policy := Policy{
		Preferences: []Preference{
			{Label: "coding", Target: ModelRef{Provider: "anthropic", Model: "claude"}},
			{Label: "coding", Target: ModelRef{Provider: "openai", Model: "gpt"}},
		},
	}
	// With no classifier configured, Route never consults preferences, so this
	// calls firstPreferenceMatch directly and asserts the first-declared
	// provider wins when both match a label.
	ref, ok := firstPreferenceMatch(policy.Preferences, "coding")
	if !ok || ref.Provider != "anthropic" {
		t.Fatalf("expected the first-declared provider to win, got %+v", ref)
	}
}
