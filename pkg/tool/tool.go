// Package tool defines the executable capabilities exposed to the model:
// the built-in send_message_to_user action and caller-supplied HTTP request
// tools, plus the executor that turns tool calls into memory steps.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Descriptor is the function-calling surface of a tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Tool is one executable capability.
type Tool interface {
	Name() string
	Descriptor() Descriptor
	Execute(ctx context.Context, args map[string]any) (content string, err error)
}

// Registry holds the tools available for one turn, preserving registration
// order for descriptor listing.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Descriptors() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.tools[name].Descriptor())
	}
	return descriptors
}

// generateSchema derives a JSON schema from a Go struct's json and
// jsonschema tags, inlined for LLM consumption.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
