package reasoning

import "strings"

// ReActStep is one parsed Thought/Action/Observation cycle from a
// plan-then-act transcript, kept for history/logging purposes. The
// tool-calling agent loop itself dispatches on the model's structured
// tool-call response (spec §4.E); this parser only extracts the
// human-readable trace for diagnostics.
type ReActStep struct {
	Thought     string
	Action      string
	Observation string
}

// ParseReActTranscript scans a plan-then-act response for
// "Thought:"/"Action:"/"Observation:" labeled segments and returns them
// in order. Unlabeled leading or trailing text is ignored. Best-effort:
// a malformed transcript yields whatever segments could be recognized.
func ParseReActTranscript(text string) []ReActStep {
	lines := strings.Split(text, "\n")

	var steps []ReActStep
	var cur ReActStep
	var haveAny bool

	flush := func() {
		if haveAny {
			steps = append(steps, cur)
		}
		cur = ReActStep{}
		haveAny = false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Thought:"):
			if cur.Thought != "" || cur.Action != "" || cur.Observation != "" {
				flush()
			}
			cur.Thought = strings.TrimSpace(strings.TrimPrefix(trimmed, "Thought:"))
			haveAny = true
		case strings.HasPrefix(trimmed, "Action:"):
			cur.Action = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action:"))
			haveAny = true
		case strings.HasPrefix(trimmed, "Observation:"):
			cur.Observation = strings.TrimSpace(strings.TrimPrefix(trimmed, "Observation:"))
			haveAny = true
		}
	}
	flush()

	return steps
}

// FinalAnswer extracts the text following a "Final Answer:" label, or the
// full text unchanged if no such label is present.
func FinalAnswer(text string) string {
	idx := strings.LastIndex(text, "Final Answer:")
	if idx == -1 {
		return text
	}
	return strings.TrimSpace(text[idx+len("Final Answer:"):])
}
