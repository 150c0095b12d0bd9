package agent

import "encoding/json"

// jsonify renders an arbitrary tool result as a JSON string for injection
// into the conversation as a tool-result message content.
func jsonify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
