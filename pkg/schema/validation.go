package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ArgValidator compiles and caches JSON Schema documents used to validate
// tool-call argument objects before a handler runs. Safe for concurrent use.
type ArgValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewArgValidator creates an empty, ready-to-use ArgValidator.
func NewArgValidator() *ArgValidator {
	return &ArgValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the given raw JSON Schema document. An empty
// schema means "no constraint" and always succeeds. Violations are reported
// as a single ErrValidation FlowError carrying every leaf violation.
func (v *ArgValidator) Validate(schemaJSON json.RawMessage, args map[string]any) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(schemaJSON)
	if err != nil {
		return NewError(ErrValidation, "invalid tool argument schema").WithCause(err)
	}

	// A call without arguments is validated as an empty argument object,
	// not as JSON null.
	if args == nil {
		args = map[string]any{}
	}
	doc, err := toJSONValue(args)
	if err != nil {
		return NewError(ErrValidation, "failed to serialize tool arguments").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *ArgValidator) getOrCompile(schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaJSON)

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("agentflow://tool-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toFlowError(err error) *FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return NewError(ErrValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return NewError(ErrValidation, verr.Error())
	}
	if len(violations) == 1 {
		return NewError(ErrValidation, violations[0]).WithDetails(map[string]any{"violations": violations})
	}
	return NewErrorf(ErrValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
