package regalloc

import (
	"github.com/talus-lang/talus/interference"
	"github.com/talus-lang/talus/regs"
)

// nodeStack is a LIFO worklist of interference-graph nodes with O(1)
// membership testing. Which worklist a node currently belongs to is
// tracked implicitly: it's whichever Allocator field holds the stack the
// caller is operating on, so the container itself only needs to answer
// "is n here" in O(1).
//
// Removal swaps the removed element with the last one rather than shifting,
// which keeps every operation O(1) at the cost of not preserving insertion
// order for elements after a removal. That's fine here: every consumer of
// these stacks (simplify, coalesce, freeze, assignColors) only cares that
// iteration is deterministic for identical input, not that it matches
// insertion order, and swap-removal is as deterministic as append.
type nodeStack struct {
	items []*interference.Node
	index map[*interference.Node]int
}

func newNodeStack() *nodeStack {
	return &nodeStack{index: make(map[*interference.Node]int)}
}

func (s *nodeStack) Push(n *interference.Node) {
	if _, ok := s.index[n]; ok {
		return
	}
	s.index[n] = len(s.items)
	s.items = append(s.items, n)
}

// Pop removes and returns the last node in the stack: the most recently
// pushed one, unless a Remove since then has swapped an older node into
// the last position.
func (s *nodeStack) Pop() *interference.Node {
	n := s.items[len(s.items)-1]
	s.remove(n)
	return n
}

func (s *nodeStack) Remove(n *interference.Node) { s.remove(n) }

func (s *nodeStack) remove(n *interference.Node) {
	i, ok := s.index[n]
	if !ok {
		return
	}
	last := len(s.items) - 1
	s.items[i] = s.items[last]
	s.index[s.items[i]] = i
	s.items = s.items[:last]
	delete(s.index, n)
}

func (s *nodeStack) Contains(n *interference.Node) bool {
	_, ok := s.index[n]
	return ok
}

func (s *nodeStack) Len() int { return len(s.items) }

// moveSet is the same membership-indexed container as nodeStack, over move
// instructions instead of nodes. The allocator keeps five of these
// (worklist, active, coalesced, constrained, frozen) pairwise disjoint by
// always pairing an Add into one with a Remove from whichever it came
// from.
type moveSet struct {
	items []regs.Instruction
	index map[regs.Instruction]int
}

func newMoveSet() *moveSet {
	return &moveSet{index: make(map[regs.Instruction]int)}
}

func (s *moveSet) Add(m regs.Instruction) {
	if _, ok := s.index[m]; ok {
		return
	}
	s.index[m] = len(s.items)
	s.items = append(s.items, m)
}

func (s *moveSet) Remove(m regs.Instruction) {
	i, ok := s.index[m]
	if !ok {
		return
	}
	last := len(s.items) - 1
	s.items[i] = s.items[last]
	s.index[s.items[i]] = i
	s.items = s.items[:last]
	delete(s.index, m)
}

func (s *moveSet) Contains(m regs.Instruction) bool {
	_, ok := s.index[m]
	return ok
}

// Pop removes and returns the first move in the set's slice. That is the
// earliest-added move only until the first removal: Remove (which Pop
// itself uses) swaps the last move into the vacated slot.
func (s *moveSet) Pop() regs.Instruction {
	m := s.items[0]
	s.Remove(m)
	return m
}

func (s *moveSet) Len() int { return len(s.items) }
