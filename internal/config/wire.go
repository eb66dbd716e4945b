package config

import (
	"github.com/archplane/core/runtime/agent/filterchain"
	"github.com/archplane/core/runtime/agent/orchestrator"
	"github.com/archplane/core/runtime/agent/ratelimit"
	"github.com/archplane/core/runtime/agent/router"
)

// AgentSpecs converts the configured agents into orchestrator.AgentSpec
// values, in declaration order.
func (c *Config) AgentSpecs() []orchestrator.AgentSpec {
	out := make([]orchestrator.AgentSpec, len(c.Agents))
	for i, a := range c.Agents {
		out[i] = orchestrator.AgentSpec{ID: a.ID, Description: a.Description, URL: a.URL}
	}
	return out
}

// FilterSpecs converts the configured filters into filterchain.FilterSpec
// values, in declaration order.
func (c *Config) FilterSpecs() []filterchain.FilterSpec {
	out := make([]filterchain.FilterSpec, len(c.Filters))
	for i, f := range c.Filters {
		spec := filterchain.FilterSpec{ID: f.ID, Endpoint: f.URL, Tool: f.Tool}
		if f.Transport == TransportMCP {
			spec.Transport = filterchain.TransportMCP
		} else {
			spec.Transport = filterchain.TransportHTTP
		}
		out[i] = spec
	}
	return out
}

// RoutingPolicy converts the configured models block into a router.Policy.
func (c *Config) RoutingPolicy() router.Policy {
	policy := router.Policy{
		Models:  make(map[string]router.ModelRef, len(c.Models.Providers)),
		Aliases: make([]router.Alias, len(c.Models.Aliases)),
	}
	for _, p := range c.Models.Providers {
		policy.Models[p.Model] = router.ModelRef{Provider: router.ProviderID(p.Provider), Model: p.Model}
	}
	for i, al := range c.Models.Aliases {
		policy.Aliases[i] = router.Alias{Name: al.Name, Target: al.Target}
	}
	for _, pr := range c.Models.Preferences {
		policy.Preferences = append(policy.Preferences, router.Preference{
			Label:       pr.Label,
			Description: pr.Description,
			Target:      policy.Models[pr.Target],
		})
	}
	if ref, ok := policy.Models[c.Models.Default]; ok {
		policy.Default = &ref
	}
	return policy
}

// RateLimitPolicy converts the configured model providers' rate-limit blocks
// into the per-provider bucket configuration consumed by a ratelimit.Limiter
// via Configure.
func (c *Config) RateLimitPolicy() map[string]ratelimit.ProviderConfig {
	out := make(map[string]ratelimit.ProviderConfig, len(c.Models.Providers))
	for _, p := range c.Models.Providers {
		out[p.Provider] = ratelimit.ProviderConfig{
			Requests: ratelimit.BucketConfig{Capacity: p.RateLimit.Requests.Capacity, RefillPerSecond: p.RateLimit.Requests.RefillPerSecond},
			Tokens:   ratelimit.BucketConfig{Capacity: p.RateLimit.Tokens.Capacity, RefillPerSecond: p.RateLimit.Tokens.RefillPerSecond},
		}
	}
	return out
}
