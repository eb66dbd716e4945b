// Package router implements route(CanonicalRequest, policy) -> (ProviderId,
// ModelName): explicit model selection, one level of alias indirection,
// preference-aligned classification, then a configured default.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/archplane/core/runtime/agent/classify"
	"github.com/archplane/core/runtime/agent/model"
)

type (
	// ProviderID identifies a configured model provider (e.g. "anthropic").
	ProviderID string

	// ModelRef names a concrete provider/model pair a request can be routed
	// to.
	ModelRef struct {
		Provider ProviderID
		Model    string
	}

	// Alias is a one-level indirection from a declared name to a concrete
	// model name. Resolving an alias never chases a second alias: the spec
	// requires exactly one level of indirection, and a name that resolves to
	// another alias is a configuration error.
	Alias struct {
		Name   string
		Target string
	}

	// Preference declares that label should route to Target when the
	// classifier picks it. Description is folded into the classifier prompt.
	Preference struct {
		Label       string
		Description string
		Target      ModelRef
	}

	// Policy is the routing configuration evaluated by Route: the set of
	// concrete models declared by name, the aliases layered on top of them,
	// the preference-aligned classifier labels, and the fallback default.
	Policy struct {
		Models      map[string]ModelRef
		Aliases     []Alias
		Preferences []Preference
		Default     *ModelRef
	}

	// Router evaluates a Policy against each request.
	Router struct {
		classifier *classify.Classifier
	}
)

// ErrNoRouteAvailable is returned when resolution falls through every rule
// and no default model is declared.
var ErrNoRouteAvailable = errors.New("router: no route available")

// ErrAliasCycle is returned when an alias resolves to another alias instead
// of a concrete model (the spec allows exactly one level of indirection), and
// also when an alias targets a name that is not a declared model at all.
var ErrAliasCycle = errors.New("router: alias resolves to another alias")

// New builds a Router. classifier may be nil when the deployment declares no
// preference-aligned policy; Route then skips straight from alias
// resolution to the default model.
func New(classifier *classify.Classifier) *Router {
	return &Router{classifier: classifier}
}

// Route resolves req against policy following the spec's resolution order:
// explicit model, one-level alias, preference classifier, then default.
func (r *Router) Route(ctx context.Context, req *model.CanonicalRequest, policy Policy) (ModelRef, error) {
	if req.Model != "" {
		if ref, ok := policy.Models[req.Model]; ok {
			return ref, nil
		}
		if alias, ok := lookupAlias(policy.Aliases, req.Model); ok {
			if ref, ok := policy.Models[alias.Target]; ok {
				return ref, nil
			}
			if _, ok := lookupAlias(policy.Aliases, alias.Target); ok {
				return ModelRef{}, fmt.Errorf("%w: alias %q -> %q", ErrAliasCycle, alias.Name, alias.Target)
			}
			return ModelRef{}, fmt.Errorf("%w: alias %q target %q is not a declared model", ErrAliasCycle, alias.Name, alias.Target)
		}
	}

	if len(policy.Preferences) > 0 && r.classifier != nil {
		candidates := make([]classify.Candidate, len(policy.Preferences))
		for i, p := range policy.Preferences {
			candidates[i] = classify.Candidate{Label: p.Label, Description: p.Description}
		}
		if label, ok := r.classifier.Classify(ctx, req.Messages, candidates); ok {
			if ref, ok := firstPreferenceMatch(policy.Preferences, label); ok {
				return ref, nil
			}
		}
	}

	if policy.Default != nil {
		return *policy.Default, nil
	}
	return ModelRef{}, ErrNoRouteAvailable
}

// firstPreferenceMatch returns the target for the first preference with the
// given label in configuration order, implementing the tie-break rule: when
// multiple providers declare the same label, the smallest configuration
// ordinal wins.
func firstPreferenceMatch(prefs []Preference, label string) (ModelRef, bool) {
	for _, p := range prefs {
		if p.Label == label {
			return p.Target, true
		}
	}
	return ModelRef{}, false
}

func lookupAlias(aliases []Alias, name string) (Alias, bool) {
	for _, a := range aliases {
		if a.Name == name {
			return a, true
		}
	}
	return Alias{}, false
}
