// Package flowgraph builds a basic-block-free control-flow graph directly
// over a linear instruction list (one node per instruction) and computes
// live-in/live-out sets by the standard backward data-flow fixpoint.
package flowgraph

import (
	"fmt"
	"sort"

	"github.com/talus-lang/talus/regs"
)

// MalformedCFGError reports that liveness could not be computed because an
// instruction's declared successor set referenced an index outside the
// instruction list.
type MalformedCFGError struct {
	InstrIndex int
	Target     int
	Len        int
}

func (e *MalformedCFGError) Error() string {
	return fmt.Sprintf("malformed cfg: instruction %d declares successor %d, out of range [0,%d)",
		e.InstrIndex, e.Target, e.Len)
}

// Node is the flow-graph node for one instruction.
type Node struct {
	Index   int
	Instr   regs.Instruction
	Preds   []int
	Succs   []int
	Use     []*regs.Register
	Def     []*regs.Register
	LiveIn  map[*regs.Register]struct{}
	LiveOut map[*regs.Register]struct{}
}

// FlowGraph is the control-flow graph over one function's instruction
// list, plus its computed liveness.
type FlowGraph struct {
	instrs []regs.Instruction
	Nodes  []*Node
}

// Build constructs the flow graph for instrs: one Node per instruction,
// predecessor/successor edges from program order plus each terminator's
// declared Successors, and per-node use/def sets. It does not compute
// liveness; call Liveness for that.
func Build(instrs []regs.Instruction) (*FlowGraph, error) {
	fg := &FlowGraph{instrs: instrs, Nodes: make([]*Node, len(instrs))}
	for i, instr := range instrs {
		fg.Nodes[i] = &Node{
			Index: i,
			Instr: instr,
			Use:   instr.UsedRegisters(),
			Def:   instr.DefinedRegisters(),
		}
	}
	for i, instr := range instrs {
		n := fg.Nodes[i]
		if instr.IsTerminator() {
			for _, t := range instr.Successors() {
				if t < 0 || t >= len(instrs) {
					return nil, &MalformedCFGError{InstrIndex: i, Target: t, Len: len(instrs)}
				}
				fg.link(i, t)
			}
		} else if i+1 < len(instrs) {
			fg.link(i, i+1)
		}
		_ = n
	}
	return fg, nil
}

func (fg *FlowGraph) link(from, to int) {
	fg.Nodes[from].Succs = append(fg.Nodes[from].Succs, to)
	fg.Nodes[to].Preds = append(fg.Nodes[to].Preds, from)
}

// Liveness computes live-in/live-out for every node by backward fixpoint
// iteration:
//
//	live_out(n) = U live_in(s) for s in succ(n)
//	live_in(n)  = use(n) U (live_out(n) \ def(n))
//
// Iteration in reverse program order converges fastest in practice; order
// does not affect the fixpoint reached.
func (fg *FlowGraph) Liveness() {
	for _, n := range fg.Nodes {
		n.LiveIn = make(map[*regs.Register]struct{})
		n.LiveOut = make(map[*regs.Register]struct{})
	}
	defSet := make([]map[*regs.Register]struct{}, len(fg.Nodes))
	for i, n := range fg.Nodes {
		d := make(map[*regs.Register]struct{}, len(n.Def))
		for _, r := range n.Def {
			d[r] = struct{}{}
		}
		defSet[i] = d
	}

	changed := true
	for changed {
		changed = false
		for i := len(fg.Nodes) - 1; i >= 0; i-- {
			n := fg.Nodes[i]

			newOut := make(map[*regs.Register]struct{})
			for _, s := range n.Succs {
				for r := range fg.Nodes[s].LiveIn {
					newOut[r] = struct{}{}
				}
			}

			newIn := make(map[*regs.Register]struct{}, len(n.Use))
			for _, r := range n.Use {
				newIn[r] = struct{}{}
			}
			for r := range newOut {
				if _, isDef := defSet[i][r]; !isDef {
					newIn[r] = struct{}{}
				}
			}

			if !setEqual(newIn, n.LiveIn) || !setEqual(newOut, n.LiveOut) {
				n.LiveIn, n.LiveOut = newIn, newOut
				changed = true
			}
		}
	}
}

func setEqual(a, b map[*regs.Register]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if _, ok := b[r]; !ok {
			return false
		}
	}
	return true
}

// LiveRegistersOver returns the virtual registers live across the given
// call-site instruction, minus its return-value definitions. Used by Frame
// to decide which registers need caller-save spill/restore around a call.
func (fg *FlowGraph) LiveRegistersOver(instrIndex int) []*regs.Register {
	n := fg.Nodes[instrIndex]
	defSet := make(map[*regs.Register]struct{}, len(n.Def))
	for _, r := range n.Def {
		defSet[r] = struct{}{}
	}
	out := make([]*regs.Register, 0, len(n.LiveOut))
	for r := range n.LiveOut {
		if _, isRet := defSet[r]; isRet {
			continue
		}
		out = append(out, r)
	}
	// Map iteration order is not stable across runs, but callers of this
	// result (Frame's caller-save emission) must produce identical
	// instruction sequences on identical input.
	// A virtual and a pre-colored register can share an ID; the virtual one
	// sorts first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID() != out[j].ID() {
			return out[i].ID() < out[j].ID()
		}
		return !out[i].Precolored() && out[j].Precolored()
	})
	return out
}
