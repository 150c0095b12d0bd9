// Package tools implements the Tool Registry (spec §4.G): a name-keyed
// table of handlers invoked by tool-capable agents, read-only during
// execution, with JSON-schema argument validation and optional guard
// expressions.
package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// Handler is a function from an argument object to a JSON-shaped result.
// It receives the calling agent's context so a cancellation token
// propagates into the handler the same way it propagates into a model
// invocation. A handler-raised error is surfaced to the enclosing agent
// as a tool-result failure marker; the model decides whether to retry
// via a different tool.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a single registered tool: its declared parameter
// schema (built with mcp-go's schema vocabulary), its handler, and an
// optional guard expression gating visibility under specific arguments.
type Definition struct {
	Name        string
	Description string
	Handler     Handler

	// Guard, when non-empty, is an expr-lang expression evaluated against
	// the call arguments. A false result makes the tool invisible under
	// those arguments (spec DOMAIN STACK item 4).
	Guard string

	mcpTool mcp.Tool
}

// Schema returns the JSON Schema for the tool's declared input, derived
// from the mcp-go tool definition.
func (d *Definition) Schema() (json.RawMessage, error) {
	raw, err := json.Marshal(d.mcpTool.InputSchema)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrConfiguration, "marshal schema for tool %q: %v", d.Name, err).WithCause(err)
	}
	return raw, nil
}

// ToolSchema returns the wire-format schema.ToolSchema advertised to the
// model client's tool list (spec §3 Model Request).
func (d *Definition) ToolSchema() (schema.ToolSchema, error) {
	raw, err := d.Schema()
	if err != nil {
		return schema.ToolSchema{}, err
	}
	return schema.ToolSchema{Name: d.Name, Description: d.Description, InputSchema: raw}, nil
}

// Builder constructs mcp-go tool option lists so definitions can declare
// their parameter schema with the same vocabulary the tool surface uses
// elsewhere in the system (mcp.WithString, mcp.WithObject, mcp.Required,
// mcp.Enum).
type Builder struct {
	name string
	opts []mcp.ToolOption
}

// NewBuilder starts a tool definition with the given name and description.
func NewBuilder(name, description string) *Builder {
	return &Builder{name: name, opts: []mcp.ToolOption{mcp.WithDescription(description)}}
}

// WithString adds a required or optional string parameter.
func (b *Builder) WithString(name, description string, required bool, enum ...string) *Builder {
	propOpts := []mcp.PropertyOption{mcp.Description(description)}
	if required {
		propOpts = append(propOpts, mcp.Required())
	}
	if len(enum) > 0 {
		propOpts = append(propOpts, mcp.Enum(enum...))
	}
	b.opts = append(b.opts, mcp.WithString(name, propOpts...))
	return b
}

// WithNumber adds a required or optional numeric parameter.
func (b *Builder) WithNumber(name, description string, required bool) *Builder {
	propOpts := []mcp.PropertyOption{mcp.Description(description)}
	if required {
		propOpts = append(propOpts, mcp.Required())
	}
	b.opts = append(b.opts, mcp.WithNumber(name, propOpts...))
	return b
}

// WithBoolean adds a required or optional boolean parameter.
func (b *Builder) WithBoolean(name, description string, required bool) *Builder {
	propOpts := []mcp.PropertyOption{mcp.Description(description)}
	if required {
		propOpts = append(propOpts, mcp.Required())
	}
	b.opts = append(b.opts, mcp.WithBoolean(name, propOpts...))
	return b
}

// WithObject adds a required or optional object parameter.
func (b *Builder) WithObject(name, description string, required bool) *Builder {
	propOpts := []mcp.PropertyOption{mcp.Description(description)}
	if required {
		propOpts = append(propOpts, mcp.Required())
	}
	b.opts = append(b.opts, mcp.WithObject(name, propOpts...))
	return b
}

// Build finalizes the tool definition, pairing it with a handler and an
// optional guard expression.
func (b *Builder) Build(handler Handler, guard string) *Definition {
	t := mcp.NewTool(b.name, b.opts...)
	return &Definition{Name: b.name, Description: t.Description, Handler: handler, Guard: guard, mcpTool: t}
}
