package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/ir"
)

func edges(pairs ...string) []ir.Edge {
	var out []ir.Edge
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ir.Edge{From: ir.ResourceID(pairs[i]), To: ir.ResourceID(pairs[i+1])})
	}
	return out
}

func TestFindCyclesDAG(t *testing.T) {
	assert.Empty(t, FindCycles(edges("zone", "cert", "cert", "domain", "domain", "alias", "zone", "alias")))
	assert.Empty(t, FindCycles(nil))
}

func TestFindCyclesSelfLoop(t *testing.T) {
	cycles := FindCycles(edges("fn", "fn"))
	require.Len(t, cycles, 1)
	assert.Equal(t, []ir.ResourceID{"fn", "fn"}, cycles[0])
}

func TestFindCyclesTwoNodes(t *testing.T) {
	cycles := FindCycles(edges("a", "b", "b", "a", "b", "c"))
	require.Len(t, cycles, 1)
	assert.Equal(t, []ir.ResourceID{"a", "b", "a"}, cycles[0])
	assert.Equal(t, "a → b → a", FormatCycle(cycles[0]))
}

func TestFindCyclesThreeNodes(t *testing.T) {
	cycles := FindCycles(edges("b", "c", "c", "a", "a", "b"))
	require.Len(t, cycles, 1)
	assert.Equal(t, []ir.ResourceID{"a", "b", "c", "a"}, cycles[0])
}

func TestFindCyclesSeparateComponents(t *testing.T) {
	cycles := FindCycles(edges("a", "b", "b", "a", "x", "y", "y", "x"))
	require.Len(t, cycles, 2)
	assert.Equal(t, ir.ResourceID("a"), cycles[0][0])
	assert.Equal(t, ir.ResourceID("x"), cycles[1][0])
}

func TestFindCyclesStable(t *testing.T) {
	in := edges("d", "e", "e", "f", "f", "d", "a", "d")
	first := FindCycles(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FindCycles(in))
	}
}

func TestCycleErrorIsBuildError(t *testing.T) {
	err := cycleError(FindCycles(edges("a", "b", "b", "a")))
	assert.True(t, IsBuildError(err))
	assert.True(t, IsCyclicDependency(err))
	assert.True(t, HasCode(err, ErrCyclicDependency))
	assert.Contains(t, err.Error(), "a → b → a")
}
