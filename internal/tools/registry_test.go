package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

func echoTool() *Definition {
	return NewBuilder("echo", "echoes its input back").
		WithString("message", "text to echo", true).
		Build(func(ctx context.Context, args map[string]any) (any, error) {
			return args["message"], nil
		}, "")
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	assert.True(t, r.Has("echo"))
	assert.Equal(t, 1, r.Count())

	result, err := r.Invoke(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	err := r.Register(echoTool())
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestRegistry_InvokeMissingToolIsNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nope", nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrToolNotFound, flowErr.Kind)
}

func TestRegistry_InvokeMissingRequiredArgIsValidationError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	_, err := r.Invoke(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestRegistry_GuardFalseHidesToolAsNotFound(t *testing.T) {
	r := NewRegistry()
	guarded := NewBuilder("admin_only", "gated tool").
		WithString("role", "caller role", true).
		Build(func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }, `role == "admin"`)
	require.NoError(t, r.Register(guarded))

	_, err := r.Invoke(context.Background(), "admin_only", map[string]any{"role": "guest"})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrToolNotFound, flowErr.Kind)

	result, err := r.Invoke(context.Background(), "admin_only", map[string]any{"role": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistry_HandlerErrorWrapsAsToolFailure(t *testing.T) {
	r := NewRegistry()
	failing := NewBuilder("boom", "always fails").
		Build(func(ctx context.Context, args map[string]any) (any, error) {
			return nil, assert.AnError
		}, "")
	require.NoError(t, r.Register(failing))

	_, err := r.Invoke(context.Background(), "boom", nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrToolFailure, flowErr.Kind)
}

func TestRegistry_InvokeForwardsContextToHandler(t *testing.T) {
	r := NewRegistry()
	type ctxKey struct{}
	var seen any
	aware := NewBuilder("ctx_aware", "reads a value out of its context").
		Build(func(ctx context.Context, args map[string]any) (any, error) {
			seen = ctx.Value(ctxKey{})
			return nil, nil
		}, "")
	require.NoError(t, r.Register(aware))

	ctx := context.WithValue(context.Background(), ctxKey{}, "propagated")
	_, err := r.Invoke(ctx, "ctx_aware", nil)
	require.NoError(t, err)
	assert.Equal(t, "propagated", seen)
}

func TestRegistry_ToolSchemasSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewBuilder("zeta", "z").Build(func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }, "")))
	require.NoError(t, r.Register(NewBuilder("alpha", "a").Build(func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }, "")))

	schemas, err := r.ToolSchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "zeta", schemas[1].Name)
}
