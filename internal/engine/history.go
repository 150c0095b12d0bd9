package engine

import (
	"sync"
	"time"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// history is the append-only, mutex-guarded execution log a Workflow
// exposes only as an immutable snapshot once Execute returns (spec §3,
// §5 "Shared resources").
type history struct {
	mu      sync.Mutex
	entries []schema.ExecutionEvent
}

func (h *history) append(category schema.EventCategory, stepID string, attempt int, elapsed time.Duration, payload map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, schema.ExecutionEvent{
		Timestamp: time.Now(),
		Category:  category,
		StepID:    stepID,
		Attempt:   attempt,
		Elapsed:   elapsed,
		Payload:   payload,
	})
}

func (h *history) snapshot() []schema.ExecutionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schema.ExecutionEvent, len(h.entries))
	copy(out, h.entries)
	return out
}
