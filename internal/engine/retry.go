package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// computeBackoff mirrors the model client's and agent's backoff formula:
// base * 2^attempt with up to 20% jitter, capped at maxDelay. The
// scheduler applies this at the step-attempt layer, independent of the
// model client's and agent's own retry budgets (spec §9).
func computeBackoff(base, maxDelay time.Duration, attempt int) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && scaled > float64(maxDelay) {
		scaled = float64(maxDelay)
	}
	jitter := scaled * 0.2 * rand.Float64()
	return time.Duration(scaled + jitter)
}

// waitForBackoff sleeps for delay or returns early on context
// cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCancelled, "context cancelled during step retry backoff").WithCause(ctx.Err())
	}
}
