package schema

import "encoding/json"

// ModelSelector names a logical model choice. The mapping from selector to
// a provider-native model ID is a closed table owned by the model client;
// adding a selector requires a code change (spec §6).
type ModelSelector string

const (
	ModelFastCheap    ModelSelector = "fast_cheap"
	ModelCapable      ModelSelector = "capable"
	ModelOpenWeights  ModelSelector = "open_weights"
)

// TaskComplexity is the input to Client.PickModel.
type TaskComplexity string

const (
	ComplexitySimple  TaskComplexity = "simple"
	ComplexityComplex TaskComplexity = "complex"
)

// MessageRole is the closed set of roles a Message may carry.
type MessageRole string

const (
	RoleSystem     MessageRole = "system"
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleToolResult MessageRole = "tool-result"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	// ToolName is set only on RoleToolResult messages, naming the tool
	// whose result (or failure) this message carries.
	ToolName string `json:"tool_name,omitempty"`
	// IsToolError marks a RoleToolResult message that carries a handler
	// failure instead of a successful result.
	IsToolError bool `json:"is_tool_error,omitempty"`
}

// ToolSchema describes a tool an agent may call, in the shape the model
// provider's tool-use contract expects.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ModelRequest is the logical invocation contract of spec §4.C / §6.
type ModelRequest struct {
	Model         ModelSelector `json:"model"`
	Messages      []Message     `json:"messages"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens"`
	Tools         []ToolSchema  `json:"tools,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
}

// ToolCall is a tool-call instruction returned by the provider in place of
// a text response.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelResponse is one of: a text payload, a tool-call instruction, or (via
// the returned error) a terminal failure. A successful response has Text,
// ToolCall, or both: when the provider sends text before a tool_use block,
// Text holds that text and ToolCall the call.
type ModelResponse struct {
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Usage    Usage     `json:"usage"`
}

// IsToolCall reports whether the response carries a tool-call instruction.
func (r *ModelResponse) IsToolCall() bool {
	return r != nil && r.ToolCall != nil
}
