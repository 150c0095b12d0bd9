// Package agent implements the Agent contract of spec §4.E: a single
// execute(inputs) operation dispatching to a Simple, Tool-Capable, or
// Reasoning algorithm depending on which optional configuration fields
// are set, wrapped in an agent-level retry policy and mutex-guarded
// metrics.
package agent

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/alfredcs/AgentFlow/internal/logging"
	"github.com/alfredcs/AgentFlow/internal/modelclient"
	"github.com/alfredcs/AgentFlow/internal/reasoning"
	"github.com/alfredcs/AgentFlow/internal/tools"
	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// defaultMaxToolIterations is the tool-capable loop's default iteration
// cap (spec §4.E).
const defaultMaxToolIterations = 8

// Config is an agent's static configuration (spec §3 Agent data model).
type Config struct {
	Model             schema.ModelSelector
	Temperature       float64
	MaxTokens         int
	SystemPrompt      string
	Pattern           reasoning.Pattern // "" = no reasoning pattern
	ToolNames         []string          // "" / nil = not tool-capable
	MaxToolIterations int               // 0 -> defaultMaxToolIterations
	Retry             schema.RetryPolicy
	InvocationTimeout time.Duration
}

// Agent is the unified agent type; it is re-entrant and holds no
// per-invocation state (spec §4.E "Concurrency posture").
type Agent struct {
	ID             string
	Name           string
	Config         Config
	PromptTemplate string

	client   modelclient.Client
	registry *tools.Registry
	metrics  *Metrics
}

// New constructs an Agent bound to the shared model client and tool
// registry.
func New(id, name string, cfg Config, promptTemplate string, client modelclient.Client, registry *tools.Registry) *Agent {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = schema.DefaultRetryPolicy()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	return &Agent{
		ID:             id,
		Name:           name,
		Config:         cfg,
		PromptTemplate: promptTemplate,
		client:         client,
		registry:       registry,
		metrics:        &Metrics{},
	}
}

// Metrics returns a snapshot of this agent's running counters.
func (a *Agent) Metrics() Snapshot {
	return a.metrics.Snapshot()
}

// IsToolCapable reports whether this agent's configuration declares any
// tools, selecting the bounded tool-call loop algorithm.
func (a *Agent) IsToolCapable() bool {
	return len(a.Config.ToolNames) > 0
}

// Execute runs the agent's algorithm against inputs, wrapped in the
// agent-level exponential-backoff retry policy. Only retryable error
// kinds are retried; every attempt updates metrics (spec §4.E).
func (a *Agent) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if a.Config.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.InvocationTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < a.Config.Retry.MaxAttempts; attempt++ {
		a.metrics.recordAttempt()

		result, err := a.executeOnce(ctx, inputs)
		if err == nil {
			a.metrics.recordSuccess()
			return result, nil
		}

		flowErr := asFlowError(err)
		a.metrics.recordFailure(flowErr.Kind)
		lastErr = flowErr

		if !flowErr.IsRetryable() || attempt == a.Config.Retry.MaxAttempts-1 {
			return nil, flowErr
		}

		delay := backoff(a.Config.Retry.BaseDelay, a.Config.Retry.MaxDelay, attempt)
		logging.L().WarnContext(ctx, "agent execution failed, retrying", "agent_id", a.ID, "attempt", attempt+1, "kind", flowErr.Kind, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCancelled, "context cancelled during agent retry backoff").WithCause(ctx.Err())
		}
	}
	return nil, lastErr
}

func (a *Agent) executeOnce(ctx context.Context, inputs map[string]any) (any, error) {
	prompt, err := substitute(a.PromptTemplate, inputs)
	if err != nil {
		return nil, err
	}

	if a.Config.Pattern != "" {
		prompt, err = reasoning.Apply(a.Config.Pattern, prompt, inputs)
		if err != nil {
			return nil, schema.NewError(schema.ErrValidation, err.Error()).WithCause(err)
		}
	}

	if a.IsToolCapable() {
		return a.runToolLoop(ctx, prompt)
	}
	return a.runSimple(ctx, prompt)
}

func (a *Agent) baseMessages(prompt string) []schema.Message {
	var msgs []schema.Message
	if a.Config.SystemPrompt != "" {
		msgs = append(msgs, schema.Message{Role: schema.RoleSystem, Content: a.Config.SystemPrompt})
	}
	msgs = append(msgs, schema.Message{Role: schema.RoleUser, Content: prompt})
	return msgs
}

// runSimple implements the Simple agent algorithm (spec §4.E steps 3-5).
func (a *Agent) runSimple(ctx context.Context, prompt string) (any, error) {
	req := schema.ModelRequest{
		Model:       a.Config.Model,
		Messages:    a.baseMessages(prompt),
		Temperature: a.Config.Temperature,
		MaxTokens:   a.Config.MaxTokens,
	}

	resp, err := a.client.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.IsToolCall() {
		return nil, schema.NewErrorf(schema.ErrValidation, "agent %q received an unexpected tool call from a non-tool-capable configuration", a.ID)
	}
	return resp.Text, nil
}

// runToolLoop implements the Tool-Capable agent algorithm (spec §4.E).
func (a *Agent) runToolLoop(ctx context.Context, prompt string) (any, error) {
	toolSchemas, err := a.toolSchemas()
	if err != nil {
		return nil, err
	}

	conversation := a.baseMessages(prompt)

	for i := 0; i < a.Config.MaxToolIterations; i++ {
		req := schema.ModelRequest{
			Model:       a.Config.Model,
			Messages:    conversation,
			Temperature: a.Config.Temperature,
			MaxTokens:   a.Config.MaxTokens,
			Tools:       toolSchemas,
		}

		resp, err := a.client.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}

		if !resp.IsToolCall() {
			return resp.Text, nil
		}

		call := resp.ToolCall
		result, toolErr := a.registry.Invoke(ctx, call.Name, call.Args)
		if toolErr != nil {
			flowErr := asFlowError(toolErr)
			if flowErr.Kind != schema.ErrToolFailure {
				return nil, flowErr
			}
			conversation = append(conversation, schema.Message{
				Role:        schema.RoleToolResult,
				ToolName:    call.Name,
				Content:     flowErr.Error(),
				IsToolError: true,
			})
			continue
		}

		conversation = append(conversation, schema.Message{
			Role:     schema.RoleToolResult,
			ToolName: call.Name,
			Content:  stringifyResult(result),
		})
	}

	return nil, schema.NewErrorf(schema.ErrValidation, "tool loop did not terminate after %d iterations", a.Config.MaxToolIterations).
		WithDetails(map[string]any{"conversation": conversation})
}

func (a *Agent) toolSchemas() ([]schema.ToolSchema, error) {
	if a.registry == nil {
		return nil, nil
	}
	all, err := a.registry.ToolSchemas()
	if err != nil {
		return nil, err
	}
	if len(a.Config.ToolNames) == 0 {
		return all, nil
	}

	allowed := make(map[string]bool, len(a.Config.ToolNames))
	for _, n := range a.Config.ToolNames {
		allowed[n] = true
	}

	var out []schema.ToolSchema
	for _, ts := range all {
		if allowed[ts.Name] {
			out = append(out, ts)
		}
	}
	return out, nil
}

func stringifyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	return jsonify(result)
}

func asFlowError(err error) *schema.FlowError {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe
	}
	return schema.NewError(schema.ErrModelInvocationFatal, err.Error()).WithCause(err)
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && scaled > float64(maxDelay) {
		scaled = float64(maxDelay)
	}
	jitter := scaled * 0.2 * rand.Float64()
	return time.Duration(scaled + jitter)
}
