// Package expressions hosts the three expression engines wired into the
// scheduler and tool registry: CEL step gating, jq dependency projection,
// and expr-lang tool guards.
package expressions

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// GateEngine evaluates a step's optional RunIf expression against a scope
// of {results, inputs}. A false result skips the step without invoking
// its agent.
type GateEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGateEngine builds a sandboxed CEL environment exposing "results" and
// "inputs" as dyn maps.
func NewGateEngine() (*GateEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("results", mapType),
		cel.Variable("inputs", mapType),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrConfiguration, "create CEL environment: %v", err).WithCause(err)
	}

	return &GateEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Evaluate compiles (or retrieves from cache) expression and evaluates it
// against results and inputs, returning a boolean gate decision.
func (e *GateEngine) Evaluate(expression string, results, inputs map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"results": nonNil(results),
		"inputs":  nonNil(inputs),
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrValidation, "run_if evaluation failed for %q: %v", expression, err).
			WithCause(err).WithDetails(map[string]any{"expression": expression})
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrValidation, "run_if expression %q did not evaluate to a boolean", expression).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

func (e *GateEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "run_if compile error in %q: %v", expression, issues.Err()).
			WithCause(issues.Err()).WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "run_if program error for %q: %v", expression, err).
			WithCause(err).WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
