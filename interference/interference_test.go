package interference_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-lang/talus/flowgraph"
	"github.com/talus-lang/talus/interference"
	"github.com/talus-lang/talus/regs"
	"github.com/talus-lang/talus/regs/regstest"
)

func gprClass() *regs.Class { return regs.NewClass(0, "gpr", nil, []regs.Color{0, 1, 2}) }

func buildGraph(t *testing.T, instrs []regs.Instruction) *interference.Graph {
	t.Helper()
	fg, err := flowgraph.Build(instrs)
	require.NoError(t, err)
	fg.Liveness()
	return interference.Build(fg)
}

func TestBuild_IndependentValuesInterfere(t *testing.T) {
	cls := gprClass()
	v1, v2, v3 := regs.NewVirtual(1, cls), regs.NewVirtual(2, cls), regs.NewVirtual(3, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("const").Def(v2),
		regstest.New("add").Use(v1, v2).Def(v3),
		regstest.New("ret").Use(v3).Return(),
	)
	g := buildGraph(t, instrs)

	n1, n2 := g.GetNode(v1), g.GetNode(v2)
	require.True(t, g.HasEdge(n1, n2), "v1 is live when v2 is defined, so v1 and v2 must interfere")
}

func TestBuild_MoveDoesNotInterfereWithItsOwnSource(t *testing.T) {
	cls := gprClass()
	v1, v2 := regs.NewVirtual(1, cls), regs.NewVirtual(2, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("mov").Def(v2).Use(v1).Move(),
		regstest.New("use").Use(v2).Return(),
	)
	g := buildGraph(t, instrs)

	n1, n2 := g.GetNode(v1), g.GetNode(v2)
	require.False(t, g.HasEdge(n1, n2), "a move's src and dst must not interfere so they remain coalescable")
}

func TestMaskUnmask_HidesAndRestoresEdges(t *testing.T) {
	cls := gprClass()
	v1, v2, v3 := regs.NewVirtual(1, cls), regs.NewVirtual(2, cls), regs.NewVirtual(3, cls)
	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("const").Def(v2),
		regstest.New("add").Use(v1, v2).Def(v3),
		regstest.New("ret").Use(v3).Return(),
	)
	g := buildGraph(t, instrs)
	n1, n2 := g.GetNode(v1), g.GetNode(v2)
	require.True(t, g.HasEdge(n1, n2))

	g.MaskNode(n1)
	require.False(t, g.HasEdge(n1, n2))
	require.Empty(t, g.Adjacent(n2))

	g.UnmaskNode(n1)
	require.True(t, g.HasEdge(n1, n2))
}

func TestCombine_MergesTempsAndEdges(t *testing.T) {
	cls := gprClass()
	v1, v2, v3 := regs.NewVirtual(1, cls), regs.NewVirtual(2, cls), regs.NewVirtual(3, cls)
	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("mov").Def(v2).Use(v1).Move(),
		regstest.New("add").Use(v2, v3).Return(),
		regstest.New("const2").Def(v3),
	)
	g := buildGraph(t, instrs)
	n1, n2, n3 := g.GetNode(v1), g.GetNode(v2), g.GetNode(v3)
	require.False(t, g.HasEdge(n1, n2))
	require.True(t, g.HasEdge(n2, n3))

	g.Combine(n1, n2)

	require.Equal(t, n1, g.GetNode(v1))
	require.Equal(t, n1, g.GetNode(v2), "v2's node must resolve to n1 after being combined into it")
	require.True(t, g.HasEdge(g.GetNode(v1), n3), "edges incident to v2 must become incident to the combined node")
	require.ElementsMatch(t, []*regs.Register{v1, v2}, n1.Temps())
}

func TestCombine_PanicsWhenNodesInterfere(t *testing.T) {
	cls := gprClass()
	v1, v2, v3 := regs.NewVirtual(1, cls), regs.NewVirtual(2, cls), regs.NewVirtual(3, cls)
	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("const").Def(v2),
		regstest.New("add").Use(v1, v2).Def(v3),
		regstest.New("ret").Use(v3).Return(),
	)
	g := buildGraph(t, instrs)
	n1, n2 := g.GetNode(v1), g.GetNode(v2)
	require.Panics(t, func() { g.Combine(n1, n2) })
}

func TestIsolatedRegisterGetsNodeButNoEdges(t *testing.T) {
	cls := gprClass()
	argR0 := regs.NewPrecolored(0, cls)
	instrs := regstest.List(
		regstest.New("use_only").Use(argR0).Return(),
	)
	g := buildGraph(t, instrs)
	n := g.GetNode(argR0)
	require.True(t, n.Precolored())
	require.Empty(t, g.Adjacent(n))
}
