// Package engine implements the Workflow Scheduler (spec §4.F): DAG
// validation, wave-batched parallel execution, per-step and
// per-workflow timeouts and retries, and the append-only execution
// history.
package engine

import (
	"sort"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// dag is the validated, topologically ordered view of a workflow's step
// table, built once before the first step runs (spec §3 invariant: "the
// step graph must be acyclic and every declared dependency must name an
// existing step").
type dag struct {
	edges   map[string][]string // step ID -> dependencies
	reverse map[string][]string // step ID -> dependents
	levels  [][]string          // parallel execution waves
}

// buildDAG validates step dependencies and computes Kahn's-algorithm
// topological levels, ordering each level by stepOrder (the workflow's
// insertion order) per spec §4.F "Tie-breaks & ordering". Every step ID
// referenced as a dependency must exist (unknown_dependency); a step
// depending on itself or otherwise participating in a cycle is
// cyclic_graph.
func buildDAG(steps map[string]*Step, stepOrder []string) (*dag, error) {
	d := &dag{
		edges:   make(map[string][]string, len(steps)),
		reverse: make(map[string][]string, len(steps)),
	}

	for id, step := range steps {
		seen := make(map[string]bool, len(step.Dependencies))
		deps := make([]string, 0, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			if _, ok := steps[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrUnknownDependency, "step %q depends on unknown step %q", id, dep).WithStep(id)
			}
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCyclicGraph, "step %q depends on itself", id).WithStep(id)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
			d.reverse[dep] = append(d.reverse[dep], id)
		}
		d.edges[id] = deps
	}

	inDegree := make(map[string]int, len(steps))
	for id := range steps {
		inDegree[id] = len(d.edges[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var sorted []string
	depth := make(map[string]int, len(steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := append([]string(nil), d.reverse[node]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			if depth[dep] < depth[node]+1 {
				depth[dep] = depth[node] + 1
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(steps) {
		return nil, schema.NewError(schema.ErrCyclicGraph, "workflow step graph contains a cycle")
	}

	maxLevel := 0
	for _, l := range depth {
		if l > maxLevel {
			maxLevel = l
		}
	}
	levels := make([][]string, maxLevel+1)
	// Group by level in insertion order rather than the Kahn's-algorithm
	// dequeue order, so within-wave ordering is deterministic and
	// caller-controlled (spec §4.F "insertion order... defines... the
	// ordering within parallel waves in their history records").
	for _, id := range stepOrder {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	d.levels = levels

	return d, nil
}
