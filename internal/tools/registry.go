package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/alfredcs/AgentFlow/internal/expressions"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// Registry is the concrete thread-safe Tool Registry (spec §4.G).
// Registration happens before any tool-capable agent executes; it is
// read-only thereafter.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition

	validator *schema.ArgValidator
	guards    *expressions.GuardEngine
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*Definition),
		validator: schema.NewArgValidator(),
		guards:    expressions.NewGuardEngine(),
	}
}

// Register adds a tool definition. Returns a validation error on
// duplicate name or a nil handler.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Handler == nil {
		return schema.NewError(schema.ErrValidation, "tool definition or handler is nil")
	}
	if def.Name == "" {
		return schema.NewError(schema.ErrValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return schema.NewErrorf(schema.ErrValidation, "tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// ToolSchemas returns the wire-format schema for every registered tool,
// sorted by name, suitable for a Model Request's tool list.
func (r *Registry) ToolSchemas() ([]schema.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]schema.ToolSchema, 0, len(names))
	for _, n := range names {
		ts, err := r.tools[n].ToolSchema()
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

// Invoke looks up name, evaluates its guard (if any) against args, and on
// pass validates args against the declared schema before calling the
// handler. ctx is forwarded to the handler unchanged, so a cancellation
// token propagated by the calling agent is observable inside the tool
// call, mirroring the model client's own suspension point (spec §5,
// §9). A missing tool or a guard-rejected call both surface as
// tool_not_found (spec §4.G / DOMAIN STACK item 4: the tool is invisible
// under those arguments). A schema violation is validation, not
// tool_failure. A handler error is wrapped as tool_failure.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrToolNotFound, "tool %q not registered", name)
	}

	if def.Guard != "" {
		allowed, err := r.guards.Allow(def.Guard, args)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, schema.NewErrorf(schema.ErrToolNotFound, "tool %q is not available for the given arguments", name)
		}
	}

	rawSchema, err := def.Schema()
	if err != nil {
		return nil, err
	}
	if err := r.validator.Validate(rawSchema, args); err != nil {
		return nil, err
	}

	result, err := def.Handler(ctx, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrToolFailure, "tool %q failed: %v", name, err).WithCause(err)
	}
	return result, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
