package schema

import (
	"encoding/json"
	"time"
)

// LogVerbosity is the closed set of logger levels (spec §4.B, §6).
type LogVerbosity string

const (
	LogDebug LogVerbosity = "debug"
	LogInfo  LogVerbosity = "info"
	LogWarn  LogVerbosity = "warn"
	LogError LogVerbosity = "error"
)

// RetryPolicy configures the agent-level exponential backoff. The model
// client (modelclient.RetryConfig) and the scheduler
// (ExecutionPolicy.MaxStepRetries) keep their own, independent retry
// settings (spec §9).
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first, >= 1
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on any single backoff wait
}

// DefaultRetryPolicy mirrors spec §4.E's agent-level default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
}

// ExecutionPolicy configures a Workflow's whole-run behavior (spec §3).
type ExecutionPolicy struct {
	WorkflowTimeout   time.Duration
	MaxWorkflowRetries int
	MaxStepRetries    int
	ParallelismEnabled bool
	MaxParallelSteps  int
	LogVerbosity      LogVerbosity
	DefaultStepTimeout time.Duration
}

// DefaultExecutionPolicy returns the spec's stated defaults: parallelism
// on, one workflow-level retry, info verbosity.
func DefaultExecutionPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		WorkflowTimeout:    5 * time.Minute,
		MaxWorkflowRetries: 1,
		MaxStepRetries:     2,
		ParallelismEnabled: true,
		MaxParallelSteps:   8,
		LogVerbosity:       LogInfo,
		DefaultStepTimeout: 30 * time.Second,
	}
}

// ExecutionEvent is one append-only history entry (spec §3).
type ExecutionEvent struct {
	Timestamp time.Time       `json:"ts"`
	Category  EventCategory   `json:"category"`
	StepID    string          `json:"step_id,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Elapsed   time.Duration   `json:"duration,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
}

// MetricsBundle summarizes one Execute call (spec §3).
type MetricsBundle struct {
	TotalSteps      int                      `json:"total_steps"`
	CompletedSteps  int                      `json:"completed_steps"`
	FailedSteps     int                      `json:"failed_steps"`
	RetriedSteps    int                      `json:"retried_steps"`
	TotalElapsed    time.Duration            `json:"total_elapsed_seconds"`
	StepDurations   map[string]time.Duration `json:"step_durations,omitempty"`
}

// MarshalJSON encodes TotalElapsed in seconds, as its JSON key states.
func (m MetricsBundle) MarshalJSON() ([]byte, error) {
	type plain MetricsBundle
	return json.Marshal(struct {
		plain
		TotalElapsed float64 `json:"total_elapsed_seconds"`
	}{plain(m), m.TotalElapsed.Seconds()})
}

// ResultBundle is the value returned by Workflow.Execute (spec §6).
type ResultBundle struct {
	WorkflowID string                 `json:"workflow_id"`
	Status     WorkflowStatus         `json:"status"`
	Results    map[string]any         `json:"results"`
	History    []ExecutionEvent       `json:"history"`
	Metrics    MetricsBundle          `json:"metrics"`
	Err        *FlowError             `json:"error,omitempty"`
}
