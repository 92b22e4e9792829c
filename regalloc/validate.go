package regalloc

import (
	"fmt"

	"github.com/talus-lang/talus/regs"
)

// validate re-checks the coloring's own invariants once assignColors has
// finished: every colored node's color belongs to its class, and no two
// interfering nodes hold colors that alias each other. It reads the
// interference graph rather than walking instructions directly, since the
// graph already encodes every live-out/def pair that matters. Gated by
// ValidationEnabled: a panic here means the allocator's own logic broke,
// not that the input frame is malformed.
func (a *Allocator) validate() {
	if !ValidationEnabled {
		return
	}
	for _, n := range a.ig.Nodes() {
		if len(n.Temps()) == 0 {
			continue // retired by combine.
		}
		if !n.IsColored() {
			panic(fmt.Sprintf("BUG: node %v left uncolored after assignColors", n))
		}
		if !n.Class().Has(n.Color()) {
			panic(fmt.Sprintf("BUG: node %v colored %v, outside its class %v", n, n.Color(), n.Class()))
		}
		for _, m := range a.ig.Adjacent(n) {
			if !m.IsColored() {
				continue
			}
			if _, clash := a.arch.Aliases(m.Color())[n.Color()]; clash {
				panic(fmt.Sprintf("BUG: interfering nodes %v and %v share aliasing colors %v/%v", n, m, n.Color(), m.Color()))
			}
		}
	}
	for _, r := range a.frame.Instructions() {
		for _, d := range r.DefinedRegisters() {
			if d.Color() == regs.ColorNone {
				panic(fmt.Sprintf("BUG: register %v left uncolored in output instructions", d))
			}
		}
	}
}
