package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-lang/talus/frame"
	"github.com/talus-lang/talus/regs"
	"github.com/talus-lang/talus/regs/regstest"
)

// newArch returns a single register class "gpr" with k colors {0,...,k-1}
// and no aliasing.
func newArch(k int) (*regs.Architecture, *regs.Class) {
	colors := make([]regs.Color, k)
	for i := range colors {
		colors[i] = regs.Color(i)
	}
	cls := regs.NewClass(0, "gpr", nil, colors)
	physRegs := make([]regs.PhysicalRegister, k)
	for i, c := range colors {
		physRegs[i] = regs.PhysicalRegister{Color: c, Class: cls}
	}
	return regs.NewArchitecture([]*regs.Class{cls}, physRegs, nil), cls
}

func distinctColors(rs ...*regs.Register) bool {
	seen := make(map[int32]struct{})
	for _, r := range rs {
		c := int32(r.Color())
		if _, dup := seen[c]; dup {
			return false
		}
		seen[c] = struct{}{}
	}
	return true
}

func TestAllocFrame_EmptyInstructionList(t *testing.T) {
	arch, _ := newArch(3)
	f := frame.New("f", arch, nil)
	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))
	require.Empty(t, f.Instructions())
	require.NotNil(t, f.FG)
	require.NotNil(t, f.IG)
}

func TestAllocFrame_SinglePrecoloredOnly(t *testing.T) {
	arch, cls := newArch(3)
	r0 := regs.NewPrecolored(0, cls)
	i0 := regstest.New("use_only").Use(r0).Return()
	f := frame.New("f", arch, regstest.List(i0))

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))
	require.Equal(t, regs.Color(0), r0.Color(), "a pre-colored register's color must never change")
	require.Len(t, f.Instructions(), 1)
}

func TestAllocFrame_StraightLineIndependentValues(t *testing.T) {
	arch, cls := newArch(3)
	v1 := regs.NewVirtual(1, cls)
	v2 := regs.NewVirtual(2, cls)
	v3 := regs.NewVirtual(3, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("const").Def(v2),
		regstest.New("add").Use(v1, v2).Def(v3),
		regstest.New("ret").Use(v3).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	require.NotEqual(t, regs.ColorNone, v1.Color())
	require.NotEqual(t, regs.ColorNone, v2.Color())
	require.NotEqual(t, regs.ColorNone, v3.Color())
	// v1 and v2 are both live into the add and must get different colors.
	// v3 is not required to differ from either: v1 and v2 die at the add
	// that defines v3 (neither is live-out of it), so the interference
	// graph records no edge from v3 to them and reusing one of their
	// colors for v3 is a valid coloring: interference edges are keyed on
	// live-out, not live-in.
	require.True(t, distinctColors(v1, v2), "v1 and v2 are simultaneously live and must get different colors")
	require.Len(t, f.Instructions(), 4, "no moves existed, so none should have been deleted")
}

func TestAllocFrame_MoveCoalescing(t *testing.T) {
	arch, cls := newArch(3)
	v1 := regs.NewVirtual(1, cls)
	v2 := regs.NewVirtual(2, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("mov").Def(v2).Use(v1).Move(),
		regstest.New("use").Use(v2).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	require.Equal(t, v1.Color(), v2.Color(), "a coalesced move's endpoints must share a color")
	require.Len(t, f.Instructions(), 2, "the coalesced move must be deleted")
}

func TestAllocFrame_SelfMoveRemoved(t *testing.T) {
	arch, cls := newArch(3)
	v1 := regs.NewVirtual(1, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("mov").Def(v1).Use(v1).Move(),
		regstest.New("use").Use(v1).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))
	require.Len(t, f.Instructions(), 2, "mov v1, v1 is an identity move and must be removed")
}

func TestAllocFrame_PrecoloredConflictForcesDifferentColor(t *testing.T) {
	arch, cls := newArch(3)
	r0 := regs.NewPrecolored(0, cls)
	argV := regs.NewVirtual(1, cls)

	instrs := regstest.List(
		regstest.New("mov_arg").Def(argV).Use(r0).Move(),
		regstest.New("call").Call().Def(r0),
		regstest.New("use").Use(argV).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	require.Equal(t, regs.Color(0), r0.Color())
	require.NotEqual(t, regs.Color(0), argV.Color(), "argV is live across a call that clobbers r0 and must not land on color 0")
}

func TestAllocFrame_ConstrainedMoveBetweenTwoPrecolored(t *testing.T) {
	arch, cls := newArch(3)
	r0 := regs.NewPrecolored(0, cls)
	r1 := regs.NewPrecolored(1, cls)

	instrs := regstest.List(
		regstest.New("mov").Def(r1).Use(r0).Move(),
		regstest.New("use").Use(r1).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	require.Equal(t, regs.Color(0), r0.Color())
	require.Equal(t, regs.Color(1), r1.Color())
	require.Len(t, f.Instructions(), 2, "a move between two pre-colored registers can never coalesce (spec invariant 2) and so is never deleted")
}

func TestAllocFrame_KRegisterCliqueFailsWithUnimplementedSpill(t *testing.T) {
	arch, cls := newArch(3)
	v1 := regs.NewVirtual(1, cls)
	v2 := regs.NewVirtual(2, cls)
	v3 := regs.NewVirtual(3, cls)
	v4 := regs.NewVirtual(4, cls)

	instrs := regstest.List(
		regstest.New("const1").Def(v1),
		regstest.New("const2").Def(v2),
		regstest.New("const3").Def(v3),
		regstest.New("const4").Def(v4),
		regstest.New("use_all").Use(v1, v2, v3, v4).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	err := a.AllocFrame(f)
	require.Error(t, err)
	var spillErr *UnimplementedSpillError
	require.ErrorAs(t, err, &spillErr)
}

func TestAllocFrame_IdempotentOnAlreadyColoredFrame(t *testing.T) {
	arch, cls := newArch(3)
	v1 := regs.NewVirtual(1, cls)
	v2 := regs.NewVirtual(2, cls)
	v3 := regs.NewVirtual(3, cls)

	instrs := regstest.List(
		regstest.New("const").Def(v1),
		regstest.New("const").Def(v2),
		regstest.New("add").Use(v1, v2).Def(v3),
		regstest.New("ret").Use(v3).Return(),
	)
	f := frame.New("f", arch, instrs)
	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	colorsBefore := []regs.Color{v1.Color(), v2.Color(), v3.Color()}
	lenBefore := len(f.Instructions())

	// Re-coloring an already-colored frame (no register is pre-colored from
	// the allocator's point of view, since SetColor on a virtual register
	// doesn't flip Precolored()) must settle on the same colors and make no
	// further instruction-list changes. Re-running treats the
	// already-assigned colors as ordinary virtual-register state, not as
	// fixed pre-colors, so this exercises the pq-test and assignColors
	// picking the same answer deterministically rather than a literal no-op
	// short-circuit.
	require.NoError(t, a.AllocFrame(f))
	require.Equal(t, colorsBefore, []regs.Color{v1.Color(), v2.Color(), v3.Color()})
	require.Equal(t, lenBefore, len(f.Instructions()))
}

func TestArchitectureQ_MultiClassAliasing(t *testing.T) {
	// A 64-bit class whose two colors each alias a pair of 32-bit colors in
	// a narrower class, in the style of x86's rax/eax-style overlap.
	wide := regs.NewClass(0, "wide", nil, []regs.Color{0, 1})
	narrow := regs.NewClass(1, "narrow", nil, []regs.Color{10, 11, 12, 13})
	physRegs := []regs.PhysicalRegister{
		{Color: 0, Class: wide, Aliases: []regs.Color{10, 11}},
		{Color: 1, Class: wide, Aliases: []regs.Color{12, 13}},
		{Color: 10, Class: narrow},
		{Color: 11, Class: narrow},
		{Color: 12, Class: narrow},
		{Color: 13, Class: narrow},
	}
	arch := regs.NewArchitecture([]*regs.Class{wide, narrow}, physRegs, nil)

	// One narrow register can block exactly one wide register (it aliases
	// exactly one wide color's pair).
	require.Equal(t, 1, arch.Q(wide, narrow))
	// One wide register can block both of the narrow registers it aliases.
	require.Equal(t, 2, arch.Q(narrow, wide))
}

func TestAllocFrame_MultiClassCoalescingNarrowsToSubclass(t *testing.T) {
	// gprAny is the superclass; gprCalleeSaved a subclass sharing its low
	// colors.
	gprAny := regs.NewClass(0, "gpr_any", nil, []regs.Color{0, 1, 2, 3})
	gprCalleeSaved := regs.NewClass(1, "gpr_callee_saved", gprAny, []regs.Color{0, 1})
	physRegs := make([]regs.PhysicalRegister, 4)
	for i := range physRegs {
		physRegs[i] = regs.PhysicalRegister{Color: regs.Color(i), Class: gprAny}
	}
	arch := regs.NewArchitecture([]*regs.Class{gprAny, gprCalleeSaved}, physRegs, nil)

	wide := regs.NewVirtual(1, gprAny)
	narrow := regs.NewVirtual(2, gprCalleeSaved)
	instrs := regstest.List(
		regstest.New("const").Def(wide),
		regstest.New("mov").Def(narrow).Use(wide).Move(),
		regstest.New("use").Use(narrow).Return(),
	)
	f := frame.New("f", arch, instrs)

	a := NewAllocator(arch)
	require.NoError(t, a.AllocFrame(f))

	require.Equal(t, wide.Color(), narrow.Color())
	require.True(t, gprCalleeSaved.Has(wide.Color()), "the combined node's class narrows to the subclass, so its color must come from gpr_callee_saved")
}
