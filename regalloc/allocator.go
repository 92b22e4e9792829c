// Package regalloc implements the iterated-register-coalescing (IRC)
// allocator: Appel and George's algorithm as extended with the pq-test of
// Runeson and Sjödin for multiple interfering register classes. It is the
// only package that imports regs, flowgraph, interference, and frame
// together, driving all three to rewrite a frame's instructions in place.
package regalloc

import (
	"github.com/talus-lang/talus/flowgraph"
	"github.com/talus-lang/talus/frame"
	"github.com/talus-lang/talus/interference"
	"github.com/talus-lang/talus/regs"
)

// Allocator drives one frame's coloring. An Allocator is reusable across
// frames sharing the same architecture, since the architecture's pq-cache,
// class table, and alias table are read-only after construction; its
// per-frame state is reset at the start of every AllocFrame call.
type Allocator struct {
	arch *regs.Architecture

	frame *frame.Frame
	fg    *flowgraph.FlowGraph
	ig    *interference.Graph

	precolored map[*interference.Node]struct{}
	initial    []*interference.Node

	simplifyWorklist *nodeStack
	freezeWorklist   *nodeStack
	spillWorklist    *nodeStack
	selectStack      *nodeStack

	worklistMoves    *moveSet
	activeMoves      *moveSet
	coalescedMoves   *moveSet
	constrainedMoves *moveSet
	frozenMoves      *moveSet

	moves     []regs.Instruction       // every move instruction in the frame, in program order.
	moveOrder map[regs.Instruction]int // program-order index, for deterministic move enumeration.
}

// NewAllocator returns an allocator for the given architecture. The same
// *Allocator may be reused across frames for that architecture.
func NewAllocator(arch *regs.Architecture) *Allocator {
	return &Allocator{arch: arch}
}

// AllocFrame performs iterated register coalescing on f, the library's one
// public entry point. On success every register in f's instructions
// carries a physical color,
// coalesced moves have been deleted from f's instruction list, and
// f.FG/f.IG record the flow and interference graphs built along the way.
// It returns *UnimplementedSpillError, *ClassMismatchError, or a
// *flowgraph.MalformedCFGError on failure; f is left in a
// partially-mutated state in that case and must not be reused.
func (a *Allocator) AllocFrame(f *frame.Frame) error {
	a.frame = f

	if err := a.build(); err != nil {
		return err
	}
	a.makeWorkList()

	logf("starting iterative coloring for frame %q", f.Name)
loop:
	for {
		switch {
		case a.simplifyWorklist.Len() > 0:
			a.simplify()
		case a.worklistMoves.Len() > 0:
			if err := a.coalesce(); err != nil {
				return err
			}
		case a.freezeWorklist.Len() > 0:
			a.freeze()
		case a.spillWorklist.Len() > 0:
			return &UnimplementedSpillError{FrameName: f.Name, NodeCount: a.spillWorklist.Len()}
		default:
			break loop
		}
	}

	a.assignColors()
	a.removeRedundantMoves()
	a.applyColors()
	a.validate()
	return nil
}

// build constructs the flow and interference graphs and partitions nodes
// into pre-colored and initial.
func (a *Allocator) build() error {
	fg, err := flowgraph.Build(a.frame.Instructions())
	if err != nil {
		return err
	}
	fg.Liveness()
	a.fg = fg
	a.frame.FG = fg

	ig := interference.Build(fg)
	a.ig = ig
	a.frame.IG = ig

	a.precolored = make(map[*interference.Node]struct{})
	a.initial = nil
	for _, n := range ig.Nodes() {
		if n.Precolored() {
			a.precolored[n] = struct{}{}
			logf("pre-colored: %v", n)
		} else {
			a.initial = append(a.initial, n)
		}
	}

	a.moves = nil
	a.moveOrder = make(map[regs.Instruction]int)
	for i, instr := range a.frame.Instructions() {
		if instr.IsMove() {
			a.moveOrder[instr] = i
			a.moves = append(a.moves, instr)
		}
	}
	return nil
}

// makeWorkList drains a.initial into the three node worklists by pq-test
// and move-relatedness, and seeds worklistMoves with every move in the
// frame.
func (a *Allocator) makeWorkList() {
	a.simplifyWorklist = newNodeStack()
	a.freezeWorklist = newNodeStack()
	a.spillWorklist = newNodeStack()
	a.selectStack = newNodeStack()

	a.worklistMoves = newMoveSet()
	a.activeMoves = newMoveSet()
	a.coalescedMoves = newMoveSet()
	a.constrainedMoves = newMoveSet()
	a.frozenMoves = newMoveSet()
	for _, m := range a.moves {
		a.worklistMoves.Add(m)
	}

	for _, n := range a.initial {
		logf("initial node: %v", n)
		switch {
		case !a.isColorable(n):
			a.spillWorklist.Push(n)
		case a.isMoveRelated(n):
			a.freezeWorklist.Push(n)
		default:
			a.simplifyWorklist.Push(n)
		}
	}
	a.initial = nil
}

// isColorable is the pq-test: n is trivially colorable iff Σ q(B, Cᵢ) <
// K(B) over n's unmasked neighbors. Pre-colored nodes are always
// colorable.
func (a *Allocator) isColorable(n *interference.Node) bool {
	if n.IsColored() {
		return true
	}
	b := n.Class()
	blocked := 0
	for _, m := range a.ig.Adjacent(n) {
		blocked += a.arch.Q(b, m.Class())
	}
	return blocked < b.K()
}

// nodeMoves returns the moves touching n that are still either active or
// on the move worklist, in program order.
func (a *Allocator) nodeMoves(n *interference.Node) []regs.Instruction {
	all := n.MovesInOrder(a.moveOrder)
	out := all[:0:0]
	for _, m := range all {
		if a.activeMoves.Contains(m) || a.worklistMoves.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// isMoveRelated reports whether n is incident to at least one move in
// worklistMoves ∪ activeMoves.
func (a *Allocator) isMoveRelated(n *interference.Node) bool {
	return len(a.nodeMoves(n)) > 0
}

// simplify removes a non-move-related, trivially colorable node from the
// graph: pop from simplifyWorklist, mask it, push it onto the select
// stack, and decrement the degree of every neighbor.
func (a *Allocator) simplify() {
	n := a.simplifyWorklist.Pop()
	a.selectStack.Push(n)
	logf("simplify node %v", n)

	neighbors := a.ig.Adjacent(n)
	a.ig.MaskNode(n)
	for _, m := range neighbors {
		a.decrementDegree(m)
	}
}

// decrementDegree reacts to a neighbor losing an edge: if m was on the
// spill worklist and has become colorable, it is promoted to freeze or
// simplify and any moves it enabled are reactivated.
func (a *Allocator) decrementDegree(m *interference.Node) {
	if !a.spillWorklist.Contains(m) {
		return
	}
	if !a.isColorable(m) {
		return
	}
	enabled := append([]*interference.Node{m}, a.ig.Adjacent(m)...)
	a.enableMoves(enabled)
	a.spillWorklist.Remove(m)
	if a.isMoveRelated(m) {
		a.freezeWorklist.Push(m)
	} else {
		a.simplifyWorklist.Push(m)
	}
}

// enableMoves moves every active move touching one of nodes back onto
// worklistMoves, in program order.
func (a *Allocator) enableMoves(nodes []*interference.Node) {
	for _, n := range nodes {
		for _, m := range n.MovesInOrder(a.moveOrder) {
			if a.activeMoves.Contains(m) {
				a.activeMoves.Remove(m)
				a.worklistMoves.Add(m)
			}
		}
	}
}

// coalesce pops one move from worklistMoves and classifies it: an
// identity move, a constrained move whose endpoints already interfere (or
// are both pre-colored), or a
// candidate for the George or Briggs coalescing test.
func (a *Allocator) coalesce() error {
	m := a.worklistMoves.Pop()
	used, defined := m.UsedRegisters(), m.DefinedRegisters()
	x, y := a.ig.GetNode(defined[0]), a.ig.GetNode(used[0])

	var u, v *interference.Node
	if _, ok := a.precolored[y]; ok {
		u, v = y, x
	} else {
		u, v = x, y
	}
	logf("coalescing %v which couples %v and %v", m, u, v)

	_, uPre := a.precolored[u]
	_, vPre := a.precolored[v]

	switch {
	case u == v:
		a.coalescedMoves.Add(m)
		a.addWorklist(u)
		logf("move was an identity move")

	case vPre || a.ig.HasEdge(u, v):
		a.constrainedMoves.Add(m)
		a.addWorklist(u)
		a.addWorklist(v)
		logf("move is constrained")

	default:
		george := uPre && fitsClass(v.Class(), u.Class()) && a.allOK(v, u)
		briggs := !uPre && a.conservative(u, v)
		if george || briggs {
			logf("combining %v and %v", u, v)
			a.coalescedMoves.Add(m)
			if err := a.combine(u, v); err != nil {
				return err
			}
			a.addWorklist(u)
		} else {
			logf("active move")
			a.activeMoves.Add(m)
		}
	}
	return nil
}

// addWorklist promotes u from freeze to simplify once it is no longer
// move-related and is trivially colorable.
func (a *Allocator) addWorklist(u *interference.Node) {
	if _, ok := a.precolored[u]; ok {
		return
	}
	if a.isMoveRelated(u) || !a.isColorable(u) {
		return
	}
	a.freezeWorklist.Remove(u)
	a.simplifyWorklist.Push(u)
}

// ok implements the George coalescing test for one neighbor t of the
// non-pre-colored endpoint against the pre-colored endpoint r.
func (a *Allocator) ok(t, r *interference.Node) bool {
	if t.IsColored() || a.isColorable(t) {
		return true
	}
	return a.ig.HasEdge(t, r)
}

func (a *Allocator) allOK(v, u *interference.Node) bool {
	for _, t := range a.ig.Adjacent(v) {
		if !a.ok(t, u) {
			return false
		}
	}
	return true
}

// conservative is the Briggs test: the merge of u and v is safe if fewer
// than K(common_class) of their combined neighbors are not trivially
// colorable.
func (a *Allocator) conservative(u, v *interference.Node) bool {
	common, ok := regs.CommonClass(u.Class(), v.Class())
	if !ok {
		return false
	}
	seen := make(map[*interference.Node]struct{})
	significant := 0
	count := func(nodes []*interference.Node) {
		for _, n := range nodes {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			if !a.isColorable(n) {
				significant++
			}
		}
	}
	count(a.ig.Adjacent(u))
	count(a.ig.Adjacent(v))
	return significant < common.K()
}

func fitsClass(sub, super *regs.Class) bool { return sub.IsSubclassOf(super) }

// combine merges v into u in the interference graph and updates worklists
// accordingly.
func (a *Allocator) combine(u, v *interference.Node) error {
	if a.freezeWorklist.Contains(v) {
		a.freezeWorklist.Remove(v)
	} else {
		a.spillWorklist.Remove(v)
	}

	common, ok := regs.CommonClass(u.Class(), v.Class())
	if !ok {
		return &ClassMismatchError{FrameName: a.frame.Name, A: u.Class().Name(), B: v.Class().Name()}
	}

	a.ig.Combine(u, v)
	u.SetClass(common)
	logf("combined node: %v", u)

	for _, t := range a.ig.Adjacent(u) {
		a.decrementDegree(t)
	}

	if a.freezeWorklist.Contains(u) && !a.isColorable(u) {
		a.freezeWorklist.Remove(u)
		a.spillWorklist.Push(u)
	}
	return nil
}

// freeze gives up coalescing u, moving it to simplify and every move
// touching it to frozenMoves; if a move's other endpoint thereby stops
// being move-related, it is simplified too.
func (a *Allocator) freeze() {
	u := a.freezeWorklist.Pop()
	logf("freezing %v", u)
	a.simplifyWorklist.Push(u)

	for _, m := range a.nodeMoves(u) {
		if a.activeMoves.Contains(m) {
			a.activeMoves.Remove(m)
		} else {
			a.worklistMoves.Remove(m)
		}
		a.frozenMoves.Add(m)

		src := a.ig.GetNode(m.UsedRegisters()[0])
		dst := a.ig.GetNode(m.DefinedRegisters()[0])
		other := dst
		if u == dst {
			other = src
		}
		if _, pre := a.precolored[other]; !pre && !a.isMoveRelated(other) && a.isColorable(other) {
			a.freezeWorklist.Remove(other)
			a.simplifyWorklist.Push(other)
		}
	}
}

// assignColors pops the select stack in LIFO order, unmasking each node and
// choosing any color not already taken by an unmasked, colored neighbor.
func (a *Allocator) assignColors() {
	for a.selectStack.Len() > 0 {
		n := a.selectStack.Pop()
		a.ig.UnmaskNode(n)

		taken := make(map[regs.Color]struct{})
		for _, m := range a.ig.Adjacent(n) {
			if !m.IsColored() {
				continue
			}
			for c := range a.arch.Aliases(m.Color()) {
				taken[c] = struct{}{}
			}
		}

		var chosen regs.Color = regs.ColorNone
		for _, c := range n.Class().Registers() {
			if _, blocked := taken[c]; !blocked {
				chosen = c
				break
			}
		}
		if chosen == regs.ColorNone {
			panic("BUG: assignColors found no free color for a node the pq-test classified as colorable")
		}
		logf("assign %v to node %v", chosen, n)
		n.SetColor(chosen)
	}
}

// removeRedundantMoves deletes every coalesced move from the frame's
// instruction list: source and destination now share a color, so the move
// would be `mov r, r`.
func (a *Allocator) removeRedundantMoves() {
	if a.coalescedMoves.Len() == 0 {
		return
	}
	doomed := make(map[regs.Instruction]struct{}, a.coalescedMoves.Len())
	for _, m := range a.moves {
		if a.coalescedMoves.Contains(m) {
			doomed[m] = struct{}{}
		}
	}
	instrs := a.frame.Instructions()
	kept := instrs[:0:0]
	for _, instr := range instrs {
		if _, gone := doomed[instr]; gone {
			continue
		}
		kept = append(kept, instr)
	}
	a.frame.SetInstructions(kept)
}

// applyColors writes each node's assigned color onto every register it
// represents. A pre-colored register's color never changes, which
// regs.Register.SetColor itself enforces.
func (a *Allocator) applyColors() {
	for _, n := range a.ig.Nodes() {
		temps := n.Temps()
		if len(temps) == 0 { // retired by combine; its temps live on n.mergedInto now.
			continue
		}
		for _, r := range temps {
			r.SetColor(n.Color())
		}
	}
}
