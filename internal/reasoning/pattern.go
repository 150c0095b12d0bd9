// Package reasoning implements the closed set of Reasoning Pattern prompt
// rewriters (spec §4.D): pure functions of (prompt, inputs) -> prompt',
// with no I/O and no retained state.
package reasoning

import (
	"fmt"
	"sort"
	"strings"
)

// Pattern is the closed enum of reasoning-pattern variants an Agent
// configuration may select. Adding a variant requires a code change.
type Pattern string

const (
	ChainOfThought Pattern = "chain_of_thought"
	PlanAndSolve   Pattern = "plan_and_solve"
	TreeOfThought  Pattern = "tree_of_thought"
	Reflection     Pattern = "reflection"
	PlanThenAct    Pattern = "plan_then_act" // ReAct-style thought/action/observation interleaving
)

// Valid reports whether p is one of the closed set of variants.
func (p Pattern) Valid() bool {
	switch p {
	case ChainOfThought, PlanAndSolve, TreeOfThought, Reflection, PlanThenAct:
		return true
	default:
		return false
	}
}

// Apply rewrites prompt according to pattern. inputs is the map the caller
// passed to the agent; none of the current patterns read it. No
// substitution happens here since placeholder substitution runs before
// Apply per spec §4.E step 1-2 ordering.
func Apply(pattern Pattern, prompt string, inputs map[string]any) (string, error) {
	switch pattern {
	case ChainOfThought:
		return applyChainOfThought(prompt), nil
	case PlanAndSolve:
		return applyPlanAndSolve(prompt), nil
	case TreeOfThought:
		return applyTreeOfThought(prompt), nil
	case Reflection:
		return applyReflection(prompt), nil
	case PlanThenAct:
		return applyPlanThenAct(prompt), nil
	default:
		return "", fmt.Errorf("unknown reasoning pattern: %s", pattern)
	}
}

func applyChainOfThought(prompt string) string {
	var b strings.Builder
	b.WriteString("Think step by step. Work through your reasoning explicitly before giving a final answer.\n\n")
	b.WriteString(prompt)
	return b.String()
}

func applyPlanAndSolve(prompt string) string {
	var b strings.Builder
	b.WriteString("First devise a numbered plan of the steps required to solve this task. ")
	b.WriteString("Then carry out the plan step by step and give the final answer.\n\n")
	b.WriteString(prompt)
	return b.String()
}

func applyTreeOfThought(prompt string) string {
	var b strings.Builder
	b.WriteString("Enumerate at least two distinct candidate lines of reasoning for this task. ")
	b.WriteString("Evaluate each candidate, then state which one you choose and why before giving the final answer.\n\n")
	b.WriteString(prompt)
	return b.String()
}

func applyReflection(prompt string) string {
	var b strings.Builder
	b.WriteString("Produce an initial answer. Then critique your own answer for errors or omissions. ")
	b.WriteString("Finally give a revised answer that addresses the critique.\n\n")
	b.WriteString(prompt)
	return b.String()
}

func applyPlanThenAct(prompt string) string {
	var b strings.Builder
	b.WriteString("Alternate between a Thought, an Action, and an Observation until you can give a Final Answer. ")
	b.WriteString("Use exactly this format for each cycle:\nThought: <reasoning>\nAction: <tool call or \"none\">\nObservation: <result>\n")
	b.WriteString("End with:\nFinal Answer: <answer>\n\n")
	b.WriteString(prompt)
	return b.String()
}

// DescribeInputs renders inputs as a stable, sorted "key=value" recap,
// used by callers that want to embed a summary of available inputs in a
// pattern's preamble without relying on map iteration order.
func DescribeInputs(inputs map[string]any) string {
	if len(inputs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, inputs[k])
	}
	return b.String()
}
