package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

func stepFor(t *testing.T, id string, deps ...string) *Step {
	t.Helper()
	return NewStep(id, nil, nil, deps)
}

func stepMap(steps ...*Step) map[string]*Step {
	m := make(map[string]*Step, len(steps))
	var order []string
	for _, s := range steps {
		m[s.ID] = s
		order = append(order, s.ID)
	}
	return m
}

func TestBuildDAG_LinearChain(t *testing.T) {
	a := stepFor(t, "a")
	b := stepFor(t, "b", "a")
	c := stepFor(t, "c", "b")
	steps := stepMap(a, b, c)
	order := []string{"a", "b", "c"}

	d, err := buildDAG(steps, order)
	require.NoError(t, err)
	require.Len(t, d.levels, 3)
	assert.Equal(t, []string{"a"}, d.levels[0])
	assert.Equal(t, []string{"b"}, d.levels[1])
	assert.Equal(t, []string{"c"}, d.levels[2])
}

func TestBuildDAG_ParallelFanOutOrderedByInsertion(t *testing.T) {
	root := stepFor(t, "root")
	// Insertion order is z, y, x on purpose to prove levels don't sort
	// alphabetically.
	z := stepFor(t, "z", "root")
	y := stepFor(t, "y", "root")
	x := stepFor(t, "x", "root")
	steps := stepMap(root, z, y, x)
	order := []string{"root", "z", "y", "x"}

	d, err := buildDAG(steps, order)
	require.NoError(t, err)
	require.Len(t, d.levels, 2)
	assert.Equal(t, []string{"root"}, d.levels[0])
	assert.Equal(t, []string{"z", "y", "x"}, d.levels[1])
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	a := stepFor(t, "a", "ghost")
	steps := stepMap(a)

	_, err := buildDAG(steps, []string{"a"})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrUnknownDependency, flowErr.Kind)
}

func TestBuildDAG_SelfDependencyIsCyclic(t *testing.T) {
	a := stepFor(t, "a", "a")
	steps := stepMap(a)

	_, err := buildDAG(steps, []string{"a"})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCyclicGraph, flowErr.Kind)
}

func TestBuildDAG_IndirectCycleIsRejected(t *testing.T) {
	a := stepFor(t, "a", "c")
	b := stepFor(t, "b", "a")
	c := stepFor(t, "c", "b")
	steps := stepMap(a, b, c)

	_, err := buildDAG(steps, []string{"a", "b", "c"})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCyclicGraph, flowErr.Kind)
}

func TestBuildDAG_DiamondConvergesToSingleFinalLevel(t *testing.T) {
	root := stepFor(t, "root")
	left := stepFor(t, "left", "root")
	right := stepFor(t, "right", "root")
	join := stepFor(t, "join", "left", "right")
	steps := stepMap(root, left, right, join)

	d, err := buildDAG(steps, []string{"root", "left", "right", "join"})
	require.NoError(t, err)
	require.Len(t, d.levels, 3)
	assert.ElementsMatch(t, []string{"left", "right"}, d.levels[1])
	assert.Equal(t, []string{"join"}, d.levels[2])
}
