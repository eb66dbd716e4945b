package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is internally coherent: listener types are
// recognized, agent/filter/model identifiers are unique and non-empty,
// aliases resolve to exactly one level of indirection, and the configured
// state-storage type is recognized. It returns a joined error listing every
// failure found.
func Validate(cfg *Config) error {
	var errs []error

	for i, l := range cfg.Listeners {
		prefix := fmt.Sprintf("listeners[%d]", i)
		if l.Address == "" {
			errs = append(errs, fmt.Errorf("%s.address is required", prefix))
		}
		if !l.Type.IsValid() {
			errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: agent, model, prompt", prefix, l.Type))
		}
	}

	seenAgents := make(map[string]int, len(cfg.Agents))
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seenAgents[a.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q duplicates agents[%d]", prefix, a.ID, prev))
		} else {
			seenAgents[a.ID] = i
		}
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
	}

	seenFilters := make(map[string]int, len(cfg.Filters))
	for i, f := range cfg.Filters {
		prefix := fmt.Sprintf("filters[%d]", i)
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seenFilters[f.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q duplicates filters[%d]", prefix, f.ID, prev))
		} else {
			seenFilters[f.ID] = i
		}
		if !f.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: http, mcp-streamable", prefix, f.Transport))
		}
		if f.Transport == TransportMCP && f.Tool == "" {
			errs = append(errs, fmt.Errorf("%s.tool is required when transport is mcp-streamable", prefix))
		}
	}

	concreteModels := make(map[string]bool, len(cfg.Models.Providers))
	for i, p := range cfg.Models.Providers {
		prefix := fmt.Sprintf("models.providers[%d]", i)
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
			continue
		}
		if concreteModels[p.Model] {
			errs = append(errs, fmt.Errorf("%s.model %q is declared more than once", prefix, p.Model))
		}
		concreteModels[p.Model] = true
		if p.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		}
	}

	aliasNames := make(map[string]bool, len(cfg.Models.Aliases))
	for i, al := range cfg.Models.Aliases {
		prefix := fmt.Sprintf("models.aliases[%d]", i)
		if al.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if concreteModels[al.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q collides with a concrete model name", prefix, al.Name))
		}
		aliasNames[al.Name] = true
	}
	for i, al := range cfg.Models.Aliases {
		prefix := fmt.Sprintf("models.aliases[%d]", i)
		if aliasNames[al.Target] {
			errs = append(errs, fmt.Errorf("%s.target %q names another alias; aliases may only chain one level", prefix, al.Target))
		}
	}

	if cfg.Models.Default != "" && !concreteModels[cfg.Models.Default] && !aliasNames[cfg.Models.Default] {
		errs = append(errs, fmt.Errorf("models.default %q names neither a declared model nor alias", cfg.Models.Default))
	}

	if cfg.State.Type != "" && !cfg.State.Type.IsValid() {
		errs = append(errs, fmt.Errorf("state.type %q is invalid; valid values: memory, postgres", cfg.State.Type))
	}
	if cfg.State.Type == StateStoragePostgres && cfg.State.ConnectionString == "" {
		errs = append(errs, errors.New("state.connection_string is required when state.type is postgres"))
	}

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampling_rate %.3f is out of range [0,1]", cfg.Tracing.SamplingRate))
	}

	return errors.Join(errs...)
}
