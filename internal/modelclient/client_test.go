package modelclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// scriptedProvider replays a fixed sequence of responses/errors, one per
// call, then repeats the last entry (spec §8: "tests should stub the
// Model Client with a scripted responder").
type scriptedProvider struct {
	calls int32
	steps []func() (*schema.ModelResponse, error)
}

func (p *scriptedProvider) Send(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error) {
	i := atomic.AddInt32(&p.calls, 1) - 1
	if int(i) >= len(p.steps) {
		i = int32(len(p.steps) - 1)
	}
	return p.steps[i]()
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestInvoke_SucceedsFirstTry(t *testing.T) {
	provider := &scriptedProvider{steps: []func() (*schema.ModelResponse, error){
		func() (*schema.ModelResponse, error) { return &schema.ModelResponse{Text: "ok"}, nil },
	}}
	c := New(provider, fastRetry())

	resp, err := c.Invoke(context.Background(), schema.ModelRequest{Model: schema.ModelFastCheap})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.EqualValues(t, 1, provider.calls)
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{steps: []func() (*schema.ModelResponse, error){
		func() (*schema.ModelResponse, error) {
			return nil, schema.NewError(schema.ErrModelInvocationTransient, "boom")
		},
		func() (*schema.ModelResponse, error) { return &schema.ModelResponse{Text: "recovered"}, nil },
	}}
	c := New(provider, fastRetry())

	resp, err := c.Invoke(context.Background(), schema.ModelRequest{Model: schema.ModelFastCheap})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.EqualValues(t, 2, provider.calls)
}

func TestInvoke_FatalFailsImmediately(t *testing.T) {
	provider := &scriptedProvider{steps: []func() (*schema.ModelResponse, error){
		func() (*schema.ModelResponse, error) {
			return nil, schema.NewError(schema.ErrModelInvocationFatal, "bad request")
		},
	}}
	c := New(provider, fastRetry())

	_, err := c.Invoke(context.Background(), schema.ModelRequest{Model: schema.ModelFastCheap})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrModelInvocationFatal, flowErr.Kind)
	assert.EqualValues(t, 1, provider.calls)
}

func TestInvoke_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	provider := &scriptedProvider{steps: []func() (*schema.ModelResponse, error){
		func() (*schema.ModelResponse, error) {
			return nil, schema.NewError(schema.ErrModelInvocationTransient, "still down")
		},
	}}
	c := New(provider, fastRetry())

	_, err := c.Invoke(context.Background(), schema.ModelRequest{Model: schema.ModelFastCheap})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrModelInvocationTransient, flowErr.Kind)
	assert.EqualValues(t, fastRetry().MaxAttempts, provider.calls)
}

func TestInvoke_CircuitOpensAfterConsecutiveFailuresAndSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{steps: []func() (*schema.ModelResponse, error){
		func() (*schema.ModelResponse, error) {
			return nil, schema.NewError(schema.ErrModelInvocationTransient, "down")
		},
	}}
	c := NewWithCircuitBreaker(provider, RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})

	req := schema.ModelRequest{Model: schema.ModelFastCheap}
	_, err := c.Invoke(context.Background(), req)
	require.Error(t, err)
	_, err = c.Invoke(context.Background(), req)
	require.Error(t, err)

	callsBeforeOpen := provider.calls

	// The circuit should now be open for this model; a further call must
	// not reach the provider until the cooldown elapses.
	_, err = c.Invoke(context.Background(), req)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrModelInvocationThrottle, flowErr.Kind)
	assert.Equal(t, callsBeforeOpen, provider.calls, "provider should not be called while circuit is open")
}

func TestPickModel(t *testing.T) {
	c := New(&scriptedProvider{}, fastRetry())
	assert.Equal(t, schema.ModelCapable, c.PickModel(schema.ComplexityComplex))
	assert.Equal(t, schema.ModelFastCheap, c.PickModel(schema.ComplexitySimple))
}
