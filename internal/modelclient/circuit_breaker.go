package modelclient

import (
	"sync"
	"time"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// circuitState is a per-model-selector breaker state, guarding the
// provider from a hammering retry loop once a model endpoint is
// consistently failing.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreakerConfig configures when a model selector's circuit opens
// and how long it stays open before a single probe request is allowed
// through.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive transient/throttle failures before opening
	Cooldown         time.Duration // time in the open state before a half-open probe
}

// DefaultCircuitBreakerConfig mirrors the teacher's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

type breaker struct {
	mu                  sync.Mutex
	state               circuitState
	consecutiveFailures int
	lastFailureTime     time.Time
}

// circuitBreakerRegistry tracks one breaker per model selector so a
// failing fast-cheap model doesn't trip the capable model's circuit and
// vice versa.
type circuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[schema.ModelSelector]*breaker
	cfg      CircuitBreakerConfig
}

func newCircuitBreakerRegistry(cfg CircuitBreakerConfig) *circuitBreakerRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultCircuitBreakerConfig()
	}
	return &circuitBreakerRegistry{breakers: make(map[schema.ModelSelector]*breaker), cfg: cfg}
}

func (r *circuitBreakerRegistry) get(model schema.ModelSelector) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[model]
	if !ok {
		b = &breaker{}
		r.breakers[model] = b
	}
	return b
}

// allow reports whether a request against model may proceed. A closed or
// half-open (probing) circuit allows the request; an open circuit within
// its cooldown window rejects it as a throttle error, which the caller's
// existing retry loop already treats as retryable.
func (r *circuitBreakerRegistry) allow(model schema.ModelSelector) *schema.FlowError {
	b := r.get(model)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		if time.Since(b.lastFailureTime) >= r.cfg.Cooldown {
			b.state = circuitHalfOpen
			return nil
		}
		return schema.NewErrorf(schema.ErrModelInvocationThrottle,
			"circuit open for model %q: %d consecutive failures", model, b.consecutiveFailures).
			WithDetails(map[string]any{"model": string(model), "consecutive_failures": b.consecutiveFailures})
	case circuitHalfOpen:
		return nil
	}
	return nil
}

func (r *circuitBreakerRegistry) recordSuccess(model schema.ModelSelector) {
	b := r.get(model)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = circuitClosed
}

func (r *circuitBreakerRegistry) recordFailure(model schema.ModelSelector) {
	b := r.get(model)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		return
	}
	if b.consecutiveFailures >= r.cfg.FailureThreshold {
		b.state = circuitOpen
	}
}
