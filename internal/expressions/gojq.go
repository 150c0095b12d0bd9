package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// ProjectionEngine applies an optional jq filter to a dependency step's
// JSON-shaped result before it is injected into a downstream step's
// inputs, letting a step consume a sub-field of a large upstream payload.
type ProjectionEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewProjectionEngine creates an empty ProjectionEngine.
func NewProjectionEngine() *ProjectionEngine {
	return &ProjectionEngine{cache: make(map[string]*gojq.Code)}
}

// Project runs filter against value and returns the single resulting
// value. Multiple jq outputs are collected into a slice; zero outputs
// yield nil. An empty filter is the identity projection.
func (e *ProjectionEngine) Project(ctx context.Context, filter string, value any) (any, error) {
	if filter == "" {
		return value, nil
	}

	code, err := e.getOrCompile(filter)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, value)

	var results []any
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if errVal, isErr := out.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrValidation, "dependency selector %q failed: %v", filter, errVal).
				WithCause(errVal).WithDetails(map[string]any{"expression": filter})
		}
		results = append(results, out)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *ProjectionEngine) getOrCompile(filter string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[filter]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[filter]; ok {
		return code, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "dependency selector parse error in %q: %v", filter, err).
			WithCause(err).WithDetails(map[string]any{"expression": filter})
	}

	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "dependency selector compile error in %q: %v", filter, err).
			WithCause(err).WithDetails(map[string]any{"expression": filter})
	}

	e.cache[filter] = code
	return code, nil
}
