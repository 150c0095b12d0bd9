package expressions

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// GuardEngine evaluates a tool's optional guard expression against its
// call arguments. A guard that evaluates false makes the tool invisible
// under those arguments (tool_not_found), rather than invoking the
// handler with rejected input.
type GuardEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewGuardEngine creates an empty GuardEngine.
func NewGuardEngine() *GuardEngine {
	return &GuardEngine{cache: make(map[string]*vm.Program)}
}

// Allow evaluates guardExpr against args and reports whether the tool
// call may proceed. An empty guard always allows.
func (e *GuardEngine) Allow(guardExpr string, args map[string]any) (bool, error) {
	if guardExpr == "" {
		return true, nil
	}

	prg, err := e.getOrCompile(guardExpr, args)
	if err != nil {
		return false, err
	}

	env := args
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrValidation, "tool guard evaluation failed for %q: %v", guardExpr, err).
			WithCause(err).WithDetails(map[string]any{"expression": guardExpr})
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrValidation, "tool guard %q did not evaluate to a boolean", guardExpr).
			WithDetails(map[string]any{"expression": guardExpr})
	}
	return b, nil
}

func (e *GuardEngine) getOrCompile(guardExpr string, args map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[guardExpr]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[guardExpr]; ok {
		return prg, nil
	}

	env := args
	if env == nil {
		env = map[string]any{}
	}

	prg, err := expr.Compile(guardExpr, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "tool guard compile error in %q: %v", guardExpr, err).
			WithCause(err).WithDetails(map[string]any{"expression": guardExpr})
	}

	e.cache[guardExpr] = prg
	return prg, nil
}
