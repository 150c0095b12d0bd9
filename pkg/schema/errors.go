// Package schema holds the wire and in-memory types shared across the
// orchestrator: the error taxonomy, event vocabulary, workflow/step status
// enums, and the model invocation contract.
package schema

import "fmt"

// ErrorKind is the closed set of failure kinds every layer of the
// orchestrator classifies its errors into. Only kinds listed here may be
// attached to a FlowError; there is no open extension point.
type ErrorKind string

const (
	ErrValidation               ErrorKind = "validation"
	ErrConfiguration            ErrorKind = "configuration"
	ErrCyclicGraph              ErrorKind = "cyclic_graph"
	ErrUnknownDependency        ErrorKind = "unknown_dependency"
	ErrModelInvocationThrottle  ErrorKind = "model_invocation_throttle"
	ErrModelInvocationTransient ErrorKind = "model_invocation_transient"
	ErrModelInvocationFatal     ErrorKind = "model_invocation_fatal"
	ErrToolNotFound             ErrorKind = "tool_not_found"
	ErrToolFailure              ErrorKind = "tool_failure"
	ErrStepTimeout              ErrorKind = "step_timeout"
	ErrWorkflowTimeout          ErrorKind = "workflow_timeout"
	ErrCancelled                ErrorKind = "cancelled"
)

// IsRetryable reports whether the kind is transient and should be retried
// by the layer that observes it (model client, agent, or scheduler).
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrModelInvocationThrottle, ErrModelInvocationTransient:
		return true
	default:
		return false
	}
}

// FlowError is the structured error type surfaced by every layer of the
// orchestrator. Every failure path attaches exactly one Kind.
type FlowError struct {
	Kind    ErrorKind
	Message string
	StepID  string
	Details map[string]any
	Cause   error
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Kind, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether this error's kind should be retried.
func (e *FlowError) IsRetryable() bool {
	return e.Kind.IsRetryable()
}

// NewError creates a FlowError with a literal message.
func NewError(kind ErrorKind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// NewErrorf creates a FlowError with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the originating step ID.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause, preserved via Unwrap.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches structured diagnostic details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}
