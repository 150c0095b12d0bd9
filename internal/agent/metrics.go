package agent

import (
	"sync"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// Metrics tracks an agent's running counters under a per-agent mutex
// (spec §3, §4.E, §5).
type Metrics struct {
	mu            sync.Mutex
	invocations   int
	successes     int
	failures      int
	lastErrorKind schema.ErrorKind
}

// Snapshot is an immutable copy of Metrics for external consumption.
type Snapshot struct {
	Invocations   int
	Successes     int
	Failures      int
	LastErrorKind schema.ErrorKind
}

func (m *Metrics) recordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations++
}

func (m *Metrics) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *Metrics) recordFailure(kind schema.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastErrorKind = kind
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Invocations:   m.invocations,
		Successes:     m.successes,
		Failures:      m.failures,
		LastErrorKind: m.lastErrorKind,
	}
}
