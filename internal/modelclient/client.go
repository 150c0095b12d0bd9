// Package modelclient implements the single logical model-invocation
// operation of spec §4.C: given a request bundle, return a structured
// response, applying a retry policy over transient provider faults.
package modelclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/alfredcs/AgentFlow/pkg/schema"

	"github.com/alfredcs/AgentFlow/internal/logging"
)

// Client is the public model-invocation contract. A single instance is
// shared across all agents and must be safe for concurrent invocations
// (spec §5); per-attempt state lives entirely on the call stack.
type Client interface {
	Invoke(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error)
	PickModel(complexity schema.TaskComplexity) schema.ModelSelector
}

// RetryConfig configures the model client's own retry loop, independent
// of the agent- and scheduler-level retry knobs (spec §9).
type RetryConfig struct {
	MaxAttempts int // default 3
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig mirrors spec §4.C's stated default.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 20 * time.Second}
}

type client struct {
	provider Provider
	retry    RetryConfig
	breakers *circuitBreakerRegistry
}

// New builds a Client around the given Provider (an *HTTPProvider in
// production, a scripted stub in tests) and retry configuration, with a
// per-model-selector circuit breaker at its default thresholds.
func New(provider Provider, retry RetryConfig) Client {
	return NewWithCircuitBreaker(provider, retry, DefaultCircuitBreakerConfig())
}

// NewWithCircuitBreaker builds a Client with an explicit circuit breaker
// configuration, letting callers tune failure thresholds per deployment.
func NewWithCircuitBreaker(provider Provider, retry RetryConfig, cbCfg CircuitBreakerConfig) Client {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &client{provider: provider, retry: retry, breakers: newCircuitBreakerRegistry(cbCfg)}
}

// PickModel is the single decision point for complexity-based model
// routing (spec §4.C).
func (c *client) PickModel(complexity schema.TaskComplexity) schema.ModelSelector {
	if complexity == schema.ComplexityComplex {
		return schema.ModelCapable
	}
	return schema.ModelFastCheap
}

// Invoke retries transient and throttle failures with exponential backoff
// and jitter, capped at MaxAttempts and MaxDelay. Fatal failures surface
// immediately.
func (c *client) Invoke(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error) {
	log := logging.L()

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if breakerErr := c.breakers.allow(req.Model); breakerErr != nil {
			lastErr = breakerErr
			if attempt == c.retry.MaxAttempts-1 {
				break
			}
			delay := backoffWithJitter(c.retry.BaseDelay, c.retry.MaxDelay, attempt)
			log.WarnContext(ctx, "model circuit open, backing off", "model", req.Model, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, schema.NewError(schema.ErrCancelled, "context cancelled during model retry backoff").WithCause(ctx.Err())
			}
		}

		resp, err := c.provider.Send(ctx, req)
		if err == nil {
			c.breakers.recordSuccess(req.Model)
			return resp, nil
		}
		lastErr = err

		var flowErr *schema.FlowError
		if fe, ok := err.(*schema.FlowError); ok {
			flowErr = fe
		} else {
			flowErr = schema.NewError(schema.ErrModelInvocationFatal, err.Error()).WithCause(err)
		}

		if flowErr.Kind == schema.ErrModelInvocationTransient || flowErr.Kind == schema.ErrModelInvocationThrottle {
			c.breakers.recordFailure(req.Model)
		}

		if !flowErr.IsRetryable() {
			return nil, flowErr
		}

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := backoffWithJitter(c.retry.BaseDelay, c.retry.MaxDelay, attempt)
		log.WarnContext(ctx, "model invocation failed, retrying", "attempt", attempt+1, "kind", flowErr.Kind, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCancelled, "context cancelled during model retry backoff").WithCause(ctx.Err())
		}
	}

	if flowErr, ok := lastErr.(*schema.FlowError); ok {
		return nil, flowErr
	}
	return nil, schema.NewError(schema.ErrModelInvocationFatal, "model invocation failed").WithCause(lastErr)
}

// backoffWithJitter computes base * 2^attempt capped at maxDelay, plus up
// to 20% jitter, per spec §4.C.
func backoffWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && scaled > float64(maxDelay) {
		scaled = float64(maxDelay)
	}
	jitter := scaled * 0.2 * rand.Float64()
	return time.Duration(scaled + jitter)
}
