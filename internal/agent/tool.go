// Package agent drives a bounded think/act/observe reasoning loop over a
// completion provider and a set of tools, and parses free-text model
// output into structured diagnosis records.
package agent

import "context"

// Tool is an executable capability exposed to the reasoning loop.
// Implementations should absorb their own failures and return text the
// model can act on; a returned error is converted into an observation,
// never propagated out of the loop.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input string) (string, error)
}

// Registry maps tool names to handlers. Dispatch is by exact name lookup.
type Registry struct {
	names []string
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registration order is preserved for prompts.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.names = append(r.names, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name])
	}
	return out
}
