package model

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolSchemaValidator compiles each ToolDefinition's InputSchema once and
// validates tool-call payloads against it before dispatch. Grounded on the
// registry's own tool-spec validation, which compiles each registered tool's
// JSON Schema with jsonschema.NewCompiler before admitting the toolset.
type ToolSchemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewToolSchemaValidator compiles every tool definition's InputSchema. It
// fails fast on the first invalid schema rather than admitting a toolset it
// cannot later validate calls against.
func NewToolSchemaValidator(defs []*ToolDefinition) (*ToolSchemaValidator, error) {
	v := &ToolSchemaValidator{schemas: make(map[string]*jsonschema.Schema, len(defs))}
	compiler := jsonschema.NewCompiler()

	for _, def := range defs {
		if def == nil || def.InputSchema == nil {
			continue
		}
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("model: tool %q: encode input schema: %w", def.Name, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("model: tool %q: decode input schema: %w", def.Name, err)
		}
		resource := "tool://" + def.Name
		if err := compiler.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("model: tool %q: add schema resource: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("model: tool %q: compile input schema: %w", def.Name, err)
		}
		v.schemas[def.Name] = schema
	}
	return v, nil
}

// ErrToolNotRegistered names the case of a tool call with no compiled
// schema. Validate does not return it: such a call validates successfully.
var ErrToolNotRegistered = fmt.Errorf("model: tool not registered with a schema")

// Validate checks call.Payload against the compiled schema for call.Name. A
// tool with no InputSchema at construction time (and therefore no compiled
// schema) always validates successfully: an absent schema means the tool
// accepts arbitrary input, not that every call to it is invalid.
func (v *ToolSchemaValidator) Validate(call *ToolCall) error {
	if call == nil {
		return fmt.Errorf("model: nil tool call")
	}
	schema, ok := v.schemas[call.Name]
	if !ok {
		return nil
	}
	var instance any
	if len(call.Payload) > 0 {
		if err := json.Unmarshal(call.Payload, &instance); err != nil {
			return fmt.Errorf("model: tool %q: decode call payload: %w", call.Name, err)
		}
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("model: tool %q: %w", call.Name, err)
	}
	return nil
}
