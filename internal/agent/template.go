package agent

import (
	"fmt"
	"strings"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// substitute replaces every {name} placeholder in template with its
// string form from inputs. A referenced name absent from inputs is a
// validation error (spec §4.E step 1).
func substitute(template string, inputs map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open == -1 {
			b.WriteString(template[i:])
			break
		}
		b.WriteString(template[i : i+open])
		start := i + open + 1

		close := strings.IndexByte(template[start:], '}')
		if close == -1 {
			return "", schema.NewErrorf(schema.ErrValidation, "unclosed placeholder in prompt template starting at position %d", start)
		}
		close += start

		name := template[start:close]
		if name == "" {
			return "", schema.NewError(schema.ErrValidation, "empty placeholder {} in prompt template")
		}

		val, ok := inputs[name]
		if !ok {
			return "", schema.NewErrorf(schema.ErrValidation, "prompt template references unknown input %q", name).
				WithDetails(map[string]any{"missing_input": name})
		}
		b.WriteString(stringify(val))

		i = close + 1
	}

	return b.String(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
