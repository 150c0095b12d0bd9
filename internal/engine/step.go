package engine

import (
	"sync"
	"time"

	"github.com/alfredcs/AgentFlow/internal/agent"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// DependencyRef names an upstream step this step consumes, with an
// optional jq filter projecting a sub-field of the upstream result
// before it is injected as the synthetic "<depId>_result" input (spec
// DOMAIN STACK item 2).
type DependencyRef struct {
	StepID   string
	Selector string // jq filter; "" = identity projection
}

// Step is one node of a workflow's step table (spec §3).
type Step struct {
	ID           string
	Agent        *agent.Agent
	Inputs       map[string]any
	Dependencies []string
	DepRefs      []DependencyRef // optional projection metadata, keyed by StepID

	// RunIf, when non-empty, is a CEL expression evaluated against
	// {results, inputs} before dispatch; false skips the step (spec
	// DOMAIN STACK item 1).
	RunIf string

	mu      sync.Mutex
	status  schema.StepStatus
	attempt int
	result  any
	err     *schema.FlowError
	elapsed time.Duration
}

// NewStep constructs a step bound to ag, with the given literal inputs
// and upstream dependency IDs. Use DepRefs after construction to attach
// jq projections to individual dependencies.
func NewStep(id string, ag *agent.Agent, inputs map[string]any, deps []string) *Step {
	return &Step{
		ID:           id,
		Agent:        ag,
		Inputs:       inputs,
		Dependencies: deps,
		status:       schema.StepPending,
	}
}

func (s *Step) setStatus(status schema.StepStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Step) Status() schema.StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Step) selectorFor(depID string) string {
	for _, ref := range s.DepRefs {
		if ref.StepID == depID {
			return ref.Selector
		}
	}
	return ""
}
