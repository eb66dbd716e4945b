// Package config provides the configuration schema and loader for the data
// plane core: listeners, agents, filters, model providers/aliases, tracing,
// and conversation-state storage, per the external-interfaces configuration
// surface.
package config

import "time"

// ListenerType names the kind of traffic a listener accepts.
type ListenerType string

const (
	ListenerAgent  ListenerType = "agent"
	ListenerModel  ListenerType = "model"
	ListenerPrompt ListenerType = "prompt"
)

// IsValid reports whether t is one of the recognized listener types.
func (t ListenerType) IsValid() bool {
	switch t {
	case ListenerAgent, ListenerModel, ListenerPrompt:
		return true
	}
	return false
}

// StateStorageType selects the Conversation State Store backend.
type StateStorageType string

const (
	StateStorageMemory   StateStorageType = "memory"
	StateStoragePostgres StateStorageType = "postgres"
)

// IsValid reports whether s is one of the recognized storage types.
func (s StateStorageType) IsValid() bool {
	switch s {
	case StateStorageMemory, StateStoragePostgres:
		return true
	}
	return false
}

// TransportType selects how a FilterSpec is invoked.
type TransportType string

const (
	TransportHTTP TransportType = "http"
	TransportMCP  TransportType = "mcp-streamable"
)

// IsValid reports whether t is one of the recognized filter transports.
func (t TransportType) IsValid() bool {
	switch t {
	case TransportHTTP, TransportMCP:
		return true
	}
	return false
}

type (
	// Config is the root configuration document for the data plane core.
	Config struct {
		Listeners []ListenerConfig `yaml:"listeners"`
		Agents    []AgentConfig    `yaml:"agents"`
		Filters   []FilterConfig   `yaml:"filters"`
		Models    ModelsConfig     `yaml:"models"`
		Tracing   TracingConfig    `yaml:"tracing"`
		State     StateConfig      `yaml:"state"`
		Drain     DrainConfig      `yaml:"drain"`
	}

	// ListenerConfig describes one HTTP listener the core accepts traffic on.
	ListenerConfig struct {
		// Address is the host:port (or bare ":port") the listener binds.
		Address string       `yaml:"address"`
		Timeout time.Duration `yaml:"timeout"`
		Type    ListenerType  `yaml:"type"`
	}

	// AgentConfig declares one agent the orchestrator can select.
	AgentConfig struct {
		ID          string `yaml:"id"`
		URL         string `yaml:"url"`
		Description string `yaml:"description"`
	}

	// FilterConfig declares one external filter the Filter-Chain Engine may
	// invoke.
	FilterConfig struct {
		ID        string        `yaml:"id"`
		URL       string        `yaml:"url"`
		Transport TransportType `yaml:"transport"`
		Tool      string        `yaml:"tool"`
	}

	// ModelsConfig declares the router's resolution surface: concrete
	// providers, one level of alias indirection, and preference-aligned
	// classifier labels.
	ModelsConfig struct {
		Providers   []ModelProviderConfig `yaml:"providers"`
		Aliases     []ModelAliasConfig    `yaml:"aliases"`
		Preferences []PreferenceConfig    `yaml:"preferences"`
		Default     string                `yaml:"default"`
		Classifier  ClassifierConfig      `yaml:"classifier"`
	}

	// ModelProviderConfig names one concrete model a client can select,
	// together with how to reach the provider that serves it.
	ModelProviderConfig struct {
		// Model is the concrete name clients pass in the request.
		Model string `yaml:"model"`
		// Provider is the provider id (e.g. "anthropic", "openai").
		Provider string `yaml:"provider"`
		// AccessKeyRef names an environment variable or secret reference
		// holding the provider credential; the core never stores the raw
		// key in configuration.
		AccessKeyRef string `yaml:"access_key_ref"`
		BaseURL      string `yaml:"base_url"`

		// RateLimit gates traffic to Provider. Zero-valued buckets are
		// disabled.
		RateLimit RateLimitConfig `yaml:"rate_limit"`
	}

	// RateLimitConfig configures the per-provider token buckets gating
	// request count and token count.
	RateLimitConfig struct {
		Requests BucketConfig `yaml:"requests"`
		Tokens   BucketConfig `yaml:"tokens"`
	}

	// BucketConfig describes one token bucket's capacity and refill rate.
	BucketConfig struct {
		Capacity        float64 `yaml:"capacity"`
		RefillPerSecond float64 `yaml:"refill_per_second"`
	}

	// ModelAliasConfig maps a declared alias name to a concrete model name.
	ModelAliasConfig struct {
		Name   string `yaml:"name"`
		Target string `yaml:"target"`
	}

	// PreferenceConfig declares one classifier-selectable label.
	PreferenceConfig struct {
		Label       string `yaml:"label"`
		Description string `yaml:"description"`
		Target      string `yaml:"target"`
	}

	// ClassifierConfig configures the lightweight external model shared by
	// the Router and the Agent Orchestrator.
	ClassifierConfig struct {
		Model   string        `yaml:"model"`
		Window  int           `yaml:"window"`
		Timeout time.Duration `yaml:"timeout"`
	}

	// TracingConfig configures OTLP export and span attribution.
	TracingConfig struct {
		SamplingRate     float64           `yaml:"sampling_rate"`
		HeaderPrefixes   []string          `yaml:"header_prefixes"`
		StaticAttributes map[string]string `yaml:"static_attributes"`
		OTLPEndpoint     string            `yaml:"otlp_endpoint"`
	}

	// StateConfig selects and configures the Conversation State Store
	// backend.
	StateConfig struct {
		Type             StateStorageType `yaml:"type"`
		ConnectionString string           `yaml:"connection_string"`
	}

	// DrainConfig configures the shutdown grace period.
	DrainConfig struct {
		GracePeriod time.Duration `yaml:"grace_period"`
	}
)

// DefaultGracePeriod is the drain period applied when DrainConfig.GracePeriod
// is left zero.
const DefaultGracePeriod = 10 * time.Second

// GracePeriodOrDefault returns the configured grace period, or
// DefaultGracePeriod when unset.
func (d DrainConfig) GracePeriodOrDefault() time.Duration {
	if d.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return d.GracePeriod
}
