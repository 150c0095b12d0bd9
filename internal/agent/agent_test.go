package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/AgentFlow/internal/tools"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

type scriptedClient struct {
	calls int32
	steps []func() (*schema.ModelResponse, error)
}

func (s *scriptedClient) Invoke(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error) {
	i := atomic.AddInt32(&s.calls, 1) - 1
	if int(i) >= len(s.steps) {
		panic("scriptedClient: ran out of scripted steps")
	}
	return s.steps[i]()
}

func (s *scriptedClient) PickModel(complexity schema.TaskComplexity) schema.ModelSelector {
	return schema.ModelFastCheap
}

func textReply(text string) func() (*schema.ModelResponse, error) {
	return func() (*schema.ModelResponse, error) { return &schema.ModelResponse{Text: text}, nil }
}

func toolCallReply(name string, args map[string]any) func() (*schema.ModelResponse, error) {
	return func() (*schema.ModelResponse, error) {
		return &schema.ModelResponse{ToolCall: &schema.ToolCall{Name: name, Args: args}}, nil
	}
}

func failReply(kind schema.ErrorKind) func() (*schema.ModelResponse, error) {
	return func() (*schema.ModelResponse, error) {
		return nil, schema.NewError(kind, "scripted failure")
	}
}

func fastRetry() schema.RetryPolicy {
	return schema.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestExecute_SimpleAgentSucceedsFirstTry(t *testing.T) {
	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){textReply("hello there")}}
	a := New("a1", "simple", Config{Retry: fastRetry()}, "say hi to {name}", client, nil)

	result, err := a.Execute(context.Background(), map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", result)
	assert.Equal(t, int32(1), client.calls)

	snap := a.Metrics()
	assert.Equal(t, 1, snap.Invocations)
	assert.Equal(t, 1, snap.Successes)
	assert.Equal(t, 0, snap.Failures)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		failReply(schema.ErrModelInvocationTransient),
		textReply("second try worked"),
	}}
	a := New("a2", "retrying", Config{Retry: fastRetry()}, "go", client, nil)

	result, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second try worked", result)
	assert.Equal(t, int32(2), client.calls)

	snap := a.Metrics()
	assert.Equal(t, 2, snap.Invocations)
	assert.Equal(t, 1, snap.Successes)
	assert.Equal(t, 1, snap.Failures)
}

func TestExecute_FatalFailureNotRetried(t *testing.T) {
	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		failReply(schema.ErrModelInvocationFatal),
		textReply("never reached"),
	}}
	a := New("a3", "fatal", Config{Retry: fastRetry()}, "go", client, nil)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrModelInvocationFatal, flowErr.Kind)
	assert.Equal(t, int32(1), client.calls)
}

func TestExecute_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		failReply(schema.ErrModelInvocationTransient),
		failReply(schema.ErrModelInvocationTransient),
		failReply(schema.ErrModelInvocationTransient),
	}}
	a := New("a4", "exhausted", Config{Retry: schema.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}}, "go", client, nil)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrModelInvocationTransient, flowErr.Kind)
	assert.Equal(t, int32(3), client.calls)

	snap := a.Metrics()
	assert.Equal(t, 3, snap.Failures)
}

func TestExecute_SimpleAgentReceivingToolCallIsValidationError(t *testing.T) {
	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		toolCallReply("some_tool", nil),
	}}
	a := New("a5", "non-tool-capable", Config{Retry: schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}}, "go", client, nil)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestExecute_ToolCapableAgentDispatchesToolThenReturnsFinalText(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.NewBuilder("lookup", "looks something up").
			WithString("query", "the query", true).
			Build(func(ctx context.Context, args map[string]any) (any, error) { return "42", nil }, ""),
	))

	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		toolCallReply("lookup", map[string]any{"query": "meaning of life"}),
		textReply("the answer is 42"),
	}}
	a := New("a6", "tool-capable", Config{
		ToolNames: []string{"lookup"},
		Retry:     schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, "find it", client, registry)

	result, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", result)
	assert.Equal(t, int32(2), client.calls)
}

func TestExecute_ToolNotFoundIsTerminalNotInjectedAsToolResult(t *testing.T) {
	registry := tools.NewRegistry() // "missing_tool" is never registered

	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		toolCallReply("missing_tool", nil),
		textReply("should never be reached"),
	}}
	a := New("a12", "calls-missing-tool", Config{
		ToolNames: []string{"missing_tool"},
		Retry:     schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, "go", client, registry)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrToolNotFound, flowErr.Kind)
	assert.Equal(t, int32(1), client.calls, "the loop must stop at the first tool_not_found instead of looping to the iteration cap")
}

func TestExecute_ToolArgValidationFailureIsTerminalNotInjectedAsToolResult(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.NewBuilder("needs_arg", "requires an arg").
			WithString("required_field", "must be present", true).
			Build(func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }, ""),
	))

	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		toolCallReply("needs_arg", map[string]any{}),
		textReply("should never be reached"),
	}}
	a := New("a13", "calls-tool-with-bad-args", Config{
		ToolNames: []string{"needs_arg"},
		Retry:     schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, "go", client, registry)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
	assert.Equal(t, int32(1), client.calls)
}

func TestExecute_ToolLoopIterationCapIsValidationError(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.NewBuilder("loopy", "always calls again").
			Build(func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }, ""),
	))

	steps := make([]func() (*schema.ModelResponse, error), 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, toolCallReply("loopy", nil))
	}
	client := &scriptedClient{steps: steps}
	a := New("a7", "never-terminates", Config{
		ToolNames:         []string{"loopy"},
		MaxToolIterations: 3,
		Retry:             schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, "go forever", client, registry)

	_, err := a.Execute(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
	assert.Equal(t, int32(3), client.calls)

	require.Contains(t, flowErr.Details, "conversation")
	conversation, ok := flowErr.Details["conversation"].([]schema.Message)
	require.True(t, ok, "conversation detail must be the actual message slice")
	assert.NotEmpty(t, conversation, "the last conversation snapshot must be attached to the boundary error")
}

func TestExecute_ToolHandlerFailureIsFedBackAsToolErrorMessage(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.NewBuilder("boom", "fails").
			Build(func(ctx context.Context, args map[string]any) (any, error) { return nil, assert.AnError }, ""),
	))

	client := &scriptedClient{steps: []func() (*schema.ModelResponse, error){
		toolCallReply("boom", nil),
		textReply("recovered after the tool failed"),
	}}
	a := New("a8", "recovers-from-tool-error", Config{
		ToolNames: []string{"boom"},
		Retry:     schema.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, "go", client, registry)

	result, err := a.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered after the tool failed", result)
}

func TestExecute_ToolNamesFilterVisibleSchemas(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.NewBuilder("a", "a").Build(func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }, "")))
	require.NoError(t, registry.Register(tools.NewBuilder("b", "b").Build(func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }, "")))

	a := New("a9", "filtered", Config{ToolNames: []string{"b"}}, "go", &scriptedClient{}, registry)
	schemas, err := a.toolSchemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "b", schemas[0].Name)
}

func TestSubstitute_ReplacesKnownPlaceholders(t *testing.T) {
	out, err := substitute("hello {name}, you are {age} years old", map[string]any{"name": "Ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "hello Ada, you are 36 years old", out)
}

func TestSubstitute_MissingInputIsValidationError(t *testing.T) {
	_, err := substitute("hello {name}", map[string]any{})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestSubstitute_UnclosedPlaceholderIsValidationError(t *testing.T) {
	_, err := substitute("hello {name", map[string]any{"name": "Ada"})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestSubstitute_EmptyPlaceholderIsValidationError(t *testing.T) {
	_, err := substitute("hello {}", nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrValidation, flowErr.Kind)
}

func TestSubstitute_NoPlaceholdersIsUnchanged(t *testing.T) {
	out, err := substitute("no placeholders here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out)
}

func TestIsToolCapable(t *testing.T) {
	withTools := New("a10", "x", Config{ToolNames: []string{"t"}}, "go", &scriptedClient{}, nil)
	assert.True(t, withTools.IsToolCapable())

	without := New("a11", "x", Config{}, "go", &scriptedClient{}, nil)
	assert.False(t, without.IsToolCapable())
}
