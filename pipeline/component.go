// Package pipeline implements the stateless data plane: the product search
// pipeline, the preference match pipeline, and the rolling summariser. A
// pipeline is a small DAG of components; each component is a pure function
// of its inputs plus injected adapters, and routes by emitting an edge label.
package pipeline

import (
	"context"
)

// Edge labels routed by the pipeline runner. The empty label is the default
// edge to the next component.
const (
	EdgeDefault        = ""
	EdgeError          = "error"
	EdgeTooManyResults = "too_many_results"
)

// Result statuses carried in the output envelopes. These are serialized
// wire values: the search envelope vocabulary is {ok, too_many_results,
// error}; the preference envelope uses {success, no_products, fallback,
// error}. An empty search result is still ok with an empty item list.
const (
	StatusOK             = "ok"
	StatusSuccess        = "success"
	StatusNoProducts     = "no_products"
	StatusFallback       = "fallback"
	StatusError          = "error"
	StatusTooManyResults = "too_many_results"
)

// Payload is the value flowing between components.
type Payload map[string]any

// Clone returns a shallow copy so components can write without aliasing
// their caller's map.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the string at key, or "" when absent or mistyped.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the int at key, tolerating float64 from JSON round-trips.
func (p Payload) Int(key string) int {
	switch n := p[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Component is a single processing unit in a pipeline DAG. Run returns the
// output payload and the edge label to follow; an error aborts the pipeline
// unless the component also routed to EdgeError.
type Component interface {
	Name() string
	Run(ctx context.Context, in Payload) (Payload, string, error)
}

// ComponentFunc adapts a function to the Component interface.
type ComponentFunc struct {
	name string
	fn   func(ctx context.Context, in Payload) (Payload, string, error)
}

// NewComponentFunc wraps fn as a named component.
func NewComponentFunc(name string, fn func(ctx context.Context, in Payload) (Payload, string, error)) *ComponentFunc {
	return &ComponentFunc{name: name, fn: fn}
}

// Name implements Component.
func (c *ComponentFunc) Name() string { return c.name }

// Run implements Component.
func (c *ComponentFunc) Run(ctx context.Context, in Payload) (Payload, string, error) {
	return c.fn(ctx, in)
}
