package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// modelTable is the closed selector -> provider-native model ID mapping
// (spec §4.C, §6). Adding an entry requires a code change.
var modelTable = map[schema.ModelSelector]string{
	schema.ModelFastCheap:   "provider-fast-v1",
	schema.ModelCapable:     "provider-capable-v1",
	schema.ModelOpenWeights: "provider-open-weights-v1",
}

// resolveModelID translates a ModelSelector into a provider-native model
// identifier, or a configuration error for an unrecognized selector.
func resolveModelID(sel schema.ModelSelector) (string, error) {
	id, ok := modelTable[sel]
	if !ok {
		return "", schema.NewErrorf(schema.ErrConfiguration, "unknown model selector: %s", sel)
	}
	return id, nil
}

// providerContentBlock mirrors the provider's tagged content union: either
// {"type":"text","text":...} or {"type":"tool_use","name":...,"input":...}.
type providerContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type providerRequestBody struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []providerMessage  `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature"`
	Tools         []providerTool     `json:"tools,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type providerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type providerTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type providerResponseBody struct {
	Content []providerContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Provider is the transport abstraction the retrying Client sits on top
// of. Splitting it out lets tests substitute a scripted responder without
// touching the retry/classification logic (spec §8: "tests should stub the
// Model Client with a scripted responder").
type Provider interface {
	Send(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error)
}

// HTTPProvider implements Provider against the logical /invoke contract of
// spec §6 over a pooled *http.Client.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvider creates an HTTPProvider with a connection-pooled client
// sized by maxConns (spec §5: "Model Client connections are pooled with a
// configurable ceiling").
func NewHTTPProvider(baseURL string, maxConns int) *HTTPProvider {
	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
	}
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Transport: transport, Timeout: 60 * time.Second},
	}
}

func (p *HTTPProvider) Send(ctx context.Context, req schema.ModelRequest) (*schema.ModelResponse, error) {
	modelID, err := resolveModelID(req.Model)
	if err != nil {
		return nil, err
	}

	body := providerRequestBody{
		Model:         modelID,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
	for _, m := range req.Messages {
		if m.Role == schema.RoleSystem {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, providerMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, providerTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, schema.NewError(schema.ErrValidation, "failed to encode model request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewError(schema.ErrValidation, "failed to build model request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, ClassifyHTTP(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if flowErr := ClassifyHTTP(resp.StatusCode, nil); flowErr != nil {
			return nil, flowErr
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, schema.NewError(schema.ErrModelInvocationTransient, "failed to read response body").WithCause(err)
	}

	var parsed providerResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, schema.NewError(schema.ErrModelInvocationFatal, "malformed response body").WithCause(err)
	}

	return toModelResponse(parsed)
}

func toModelResponse(body providerResponseBody) (*schema.ModelResponse, error) {
	out := &schema.ModelResponse{Usage: schema.Usage{InputTokens: body.Usage.InputTokens, OutputTokens: body.Usage.OutputTokens}}

	for _, block := range body.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, schema.NewError(schema.ErrModelInvocationFatal, "malformed tool_use input").WithCause(err)
				}
			}
			out.ToolCall = &schema.ToolCall{Name: block.Name, Args: args}
			return out, nil
		default:
			return nil, schema.NewErrorf(schema.ErrModelInvocationFatal, "unrecognized content block type: %s", block.Type)
		}
	}

	if out.Text == "" && out.ToolCall == nil {
		return nil, schema.NewError(schema.ErrModelInvocationFatal, "empty response body")
	}
	return out, nil
}
