// Package regstest provides a fluent mock regs.Instruction builder shared
// by the flowgraph, interference, frame and regalloc test suites.
package regstest

import (
	"fmt"
	"strings"

	"github.com/talus-lang/talus/regs"
)

// Instr is a mock instruction for tests: a fluent builder over
// regs.Instruction.
type Instr struct {
	name    string
	uses    []*regs.Register
	defs    []*regs.Register
	isMove  bool
	isCall  bool
	isTerm  bool
	succs   []int
}

// New returns an empty mock instruction named name (used only by String,
// for failure messages).
func New(name string) *Instr { return &Instr{name: name} }

// Use appends registers this instruction reads.
func (i *Instr) Use(rs ...*regs.Register) *Instr { i.uses = append(i.uses, rs...); return i }

// Def appends registers this instruction writes.
func (i *Instr) Def(rs ...*regs.Register) *Instr { i.defs = append(i.defs, rs...); return i }

// Move marks this as a move instruction: Def(dst).Use(src).Move().
func (i *Instr) Move() *Instr { i.isMove = true; return i }

// Call marks this as a call instruction.
func (i *Instr) Call() *Instr { i.isCall = true; return i }

// Branch marks this as a terminator with the given successor indices.
func (i *Instr) Branch(succs ...int) *Instr { i.isTerm = true; i.succs = succs; return i }

// Return marks this as a terminator with no successors.
func (i *Instr) Return() *Instr { i.isTerm = true; i.succs = nil; return i }

func (i *Instr) UsedRegisters() []*regs.Register    { return i.uses }
func (i *Instr) DefinedRegisters() []*regs.Register { return i.defs }
func (i *Instr) IsMove() bool                       { return i.isMove }
func (i *Instr) IsCall() bool                       { return i.isCall }
func (i *Instr) IsTerminator() bool                 { return i.isTerm }
func (i *Instr) Successors() []int                  { return i.succs }

func (i *Instr) String() string {
	var sb strings.Builder
	if len(i.defs) > 0 {
		parts := make([]string, len(i.defs))
		for j, r := range i.defs {
			parts[j] = r.String()
		}
		fmt.Fprintf(&sb, "%s <- ", strings.Join(parts, ", "))
	}
	sb.WriteString(i.name)
	if len(i.uses) > 0 {
		parts := make([]string, len(i.uses))
		for j, r := range i.uses {
			parts[j] = r.String()
		}
		fmt.Fprintf(&sb, " %s", strings.Join(parts, ", "))
	}
	return sb.String()
}

// List builds a []regs.Instruction from mock instructions, the shape Build
// and Allocator.AllocFrame consume.
func List(instrs ...*Instr) []regs.Instruction {
	out := make([]regs.Instruction, len(instrs))
	for i, ins := range instrs {
		out[i] = ins
	}
	return out
}
