// Package frame implements the per-function container the allocator
// drives and that the allocator's caller ultimately feeds to an
// assembler: the instruction list, a deterministic stack-slot allocator,
// a deduplicating literal pool, a virtual-register factory, and the
// prologue/epilogue/call-wrapping hooks.
//
// Frame treats instruction synthesis as an architecture-specific concern,
// delegating it to an Emitter so the orchestration logic here (what to
// save, in what order, at what offset) stays independent of how any
// particular target encodes a store or a stack adjustment.
package frame

import (
	"fmt"

	"github.com/talus-lang/talus/flowgraph"
	"github.com/talus-lang/talus/interference"
	"github.com/talus-lang/talus/regs"
)

// Emitter synthesizes the concrete instructions a Frame's prologue,
// epilogue, and call-site wrapping need, for one target architecture.
// Implementations live with the instruction selector, outside this
// package.
type Emitter interface {
	// Label returns a label-defining pseudo-instruction for the start of
	// the function.
	Label(name string) regs.Instruction
	// AdjustStack returns an instruction that adds delta to the stack
	// pointer (negative delta reserves space).
	AdjustStack(delta int64) regs.Instruction
	// SetFramePointer returns an instruction that copies the current
	// stack pointer into the frame pointer.
	SetFramePointer() regs.Instruction
	// SaveSlot returns an instruction that stores r to the stack at
	// offset.
	SaveSlot(r *regs.Register, offset int64) regs.Instruction
	// RestoreSlot returns an instruction that loads r from the stack at
	// offset.
	RestoreSlot(r *regs.Register, offset int64) regs.Instruction
	// Alignment returns a pseudo-instruction padding the current position
	// to an n-byte boundary.
	Alignment(n int) regs.Instruction
	// Literal returns the instruction(s) emitting value under label,
	// terminated by whatever alignment the architecture requires after
	// it.
	Literal(label string, value any) []regs.Instruction
}

type constant struct {
	label string
	value any
}

// Frame is the per-function container the allocator consumes and
// rewrites in place.
type Frame struct {
	Name string
	arch *regs.Architecture

	instructions []regs.Instruction

	nextVRegID regs.ID

	stackSize int64
	slotOrder []string
	slots     map[string]int64

	constants  []constant
	literalSeq int

	// FG and IG are populated by the allocator during build, for
	// inspection and debugging. Nil until AllocFrame has run.
	FG *flowgraph.FlowGraph
	IG *interference.Graph
}

// New creates a frame named name for architecture arch, over the given
// initial instruction list.
func New(name string, arch *regs.Architecture, instructions []regs.Instruction) *Frame {
	return &Frame{
		Name:         name,
		arch:         arch,
		instructions: instructions,
		slots:        make(map[string]int64),
	}
}

// Architecture returns the target architecture this frame was built for.
func (f *Frame) Architecture() *regs.Architecture { return f.arch }

// Instructions returns the frame's current instruction list. The
// allocator both reads from and writes to this list in place.
func (f *Frame) Instructions() []regs.Instruction { return f.instructions }

// SetInstructions replaces the frame's instruction list, e.g. after the
// allocator deletes coalesced moves once coloring finishes.
func (f *Frame) SetInstructions(instrs []regs.Instruction) { f.instructions = instrs }

// NewVirtualRegister returns a fresh, uncolored register in the given
// class.
func (f *Frame) NewVirtualRegister(class *regs.Class) *regs.Register {
	f.nextVRegID++
	return regs.NewVirtual(f.nextVRegID, class)
}

// AllocVar returns a deterministic stack-slot offset for key, of size
// bytes. Repeated calls with the same key always return the same offset;
// each new key is accumulated into the frame's stack size.
func (f *Frame) AllocVar(key string, size int64) int64 {
	if off, ok := f.slots[key]; ok {
		return off
	}
	off := f.stackSize
	f.slots[key] = off
	f.slotOrder = append(f.slotOrder, key)
	f.stackSize += size
	return off
}

// StackSize returns the frame's current accumulated stack size, in bytes.
func (f *Frame) StackSize() int64 { return f.stackSize }

// AddConstant interns value into the literal pool, returning a stable
// label. Values compare structurally: a later call with an
// already-interned value returns the earlier label instead of growing the
// pool. Supported shapes are int, int64, string, and []byte.
func (f *Frame) AddConstant(value any) string {
	switch value.(type) {
	case int64, int, string, []byte:
	default:
		panic(fmt.Sprintf("BUG: unsupported constant literal type %T", value))
	}
	for _, c := range f.constants {
		if constEqual(c.value, value) {
			return c.label
		}
	}
	label := fmt.Sprintf("%s_literal_%d", f.Name, f.literalSeq)
	f.literalSeq++
	f.constants = append(f.constants, constant{label: label, value: value})
	return label
}

func constEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// LiveRegistersOver delegates to the frame's flow graph; it must be
// called only after the allocator has built FG, i.e. after AllocFrame has
// run at least its build phase.
func (f *Frame) LiveRegistersOver(instrIndex int) []*regs.Register {
	if f.FG == nil {
		panic("BUG: LiveRegistersOver called before the flow graph was built")
	}
	return f.FG.LiveRegistersOver(instrIndex)
}

// ClobberedCalleeSaved returns the callee-saved physical registers this
// frame's body writes to, in ascending color order. Valid only once every
// instruction has been colored. Used to decide which registers Prologue
// and Epilogue must save and restore.
func (f *Frame) ClobberedCalleeSaved() []regs.Color {
	seen := make(map[regs.Color]struct{})
	for _, instr := range f.instructions {
		for _, d := range instr.DefinedRegisters() {
			c := d.Color()
			if c != regs.ColorNone && f.arch.IsCalleeSaved(c) {
				seen[c] = struct{}{}
			}
		}
	}
	out := make([]regs.Color, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sortColors(out)
	return out
}

func sortColors(cs []regs.Color) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1] > cs[j]; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

// Prologue returns the instruction sequence to emit at function entry: a
// label, saves of every clobbered callee-saved register, stack-pointer
// adjustment to reserve AllocVar'd space, and frame-pointer setup.
// Register choice is never hard-coded: it is read entirely off
// ClobberedCalleeSaved and the slots AllocVar already assigned.
func (f *Frame) Prologue(e Emitter) []regs.Instruction {
	var out []regs.Instruction
	out = append(out, e.Label(f.Name))

	offset := int64(0)
	for _, c := range f.ClobberedCalleeSaved() {
		pr := f.arch.PhysicalRegister(c)
		r := regs.NewPrecolored(c, pr.Class)
		out = append(out, e.SaveSlot(r, offset))
		offset += 8
	}

	if f.stackSize > 0 {
		out = append(out, e.AdjustStack(-f.stackSize))
	}
	out = append(out, e.SetFramePointer())
	return out
}

// Epilogue returns the instruction sequence to emit at function exit:
// stack-pointer restore, callee-saved register restore (in reverse of
// Prologue's save order), and the literal pool.
func (f *Frame) Epilogue(e Emitter) []regs.Instruction {
	var out []regs.Instruction
	if f.stackSize > 0 {
		out = append(out, e.AdjustStack(f.stackSize))
	}

	clobbered := f.ClobberedCalleeSaved()
	offset := int64(len(clobbered)-1) * 8
	for i := len(clobbered) - 1; i >= 0; i-- {
		c := clobbered[i]
		pr := f.arch.PhysicalRegister(c)
		r := regs.NewPrecolored(c, pr.Class)
		out = append(out, e.RestoreSlot(r, offset))
		offset -= 8
	}

	out = append(out, f.litpool(e)...)
	return out
}

// litpool drains the literal pool, emitting each constant once after a
// 4-byte alignment. It adds no alignment after the pool; any padding after
// a constant comes from Emitter.Literal.
func (f *Frame) litpool(e Emitter) []regs.Instruction {
	if len(f.constants) == 0 {
		return nil
	}
	out := []regs.Instruction{e.Alignment(4)}
	for _, c := range f.constants {
		out = append(out, e.Literal(c.label, c.value)...)
	}
	f.constants = nil
	return out
}

// MakeCall returns the save/restore instructions wrapping the call at
// callInstrIndex, computed from LiveRegistersOver(callInstrIndex). The
// caller is responsible for splicing saves before and restores after the
// call instruction in the frame's instruction list; MakeCall itself only
// synthesizes the sequence.
func (f *Frame) MakeCall(e Emitter, callInstrIndex int) (saves, restores []regs.Instruction) {
	if instr := f.instructions[callInstrIndex]; !instr.IsCall() {
		panic(fmt.Sprintf("BUG: MakeCall called on non-call instruction %v", instr))
	}
	live := f.LiveRegistersOver(callInstrIndex)
	offset := int64(0)
	for _, r := range live {
		saves = append(saves, e.SaveSlot(r, offset))
		offset += 8
	}
	for i := len(live) - 1; i >= 0; i-- {
		offset -= 8
		restores = append(restores, e.RestoreSlot(live[i], offset))
	}
	return saves, restores
}
