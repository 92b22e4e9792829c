package regs

import "fmt"

// ID identifies a register within one Frame's virtual-register namespace.
// Pre-colored registers reuse their Color as their ID, so a virtual and a
// pre-colored register can share an ID; registers are told apart by
// pointer identity, not by ID.
type ID uint32

// Register is the mutable descriptor instructions reference: a color
// (ColorNone until the allocator assigns one), a register class, and, for
// a pre-colored register, a fixed color that never changes. Register is
// compared by pointer identity: the same *Register must be reused by
// every instruction that reads or writes the same virtual (or physical)
// register.
type Register struct {
	id         ID
	precolored bool
	class      *Class
	color      Color
}

// NewVirtual returns a fresh, uncolored register in the given class. Frame
// (frame.NewVirtualRegister) is the intended caller; the allocator treats
// any Register with Precolored()==false as eligible for coloring.
func NewVirtual(id ID, class *Class) *Register {
	return &Register{id: id, class: class, color: ColorNone}
}

// NewPrecolored returns a register fixed to physical register color from
// the first call onward. The allocator never changes its color, and two
// pre-colored registers never coalesce with each other: each is already
// bound to a distinct piece of hardware.
func NewPrecolored(color Color, class *Class) *Register {
	return &Register{id: ID(color), precolored: true, class: class, color: color}
}

// ID returns the register's identifier, stable for its lifetime.
func (r *Register) ID() ID { return r.id }

// Precolored reports whether this register entered allocation already
// fixed to a physical register.
func (r *Register) Precolored() bool { return r.precolored }

// Class returns the register's class. Coalescing narrows the class of the
// interference-graph node that represents the register, not this value;
// it changes only through SetClass, which the allocator does not call.
func (r *Register) Class() *Class { return r.class }

// SetClass narrows this register's class. Only the interference-graph
// node owning this register's representative should call this.
func (r *Register) SetClass(c *Class) { r.class = c }

// Color returns the physical register assigned to this register, or
// ColorNone if uncolored.
func (r *Register) Color() Color { return r.color }

// SetColor assigns a physical register. For a pre-colored register this
// must be called with its existing color, since the allocator only ever
// writes back the color a node already carries; SetColor panics otherwise,
// because that would indicate a corrupted allocator invariant, not a
// recoverable error.
func (r *Register) SetColor(c Color) {
	if r.precolored && r.color != c {
		panic(fmt.Sprintf("BUG: attempted to recolor pre-colored register %v from %v to %v", r.id, r.color, c))
	}
	r.color = c
}

// String implements fmt.Stringer for debug logging.
func (r *Register) String() string {
	if r == nil {
		return "<nil reg>"
	}
	if r.precolored {
		return fmt.Sprintf("r%d", r.color)
	}
	return fmt.Sprintf("v%d", r.id)
}

// Instruction is the contract instruction selection hands the allocator.
// Defined/UsedRegisters must return the same *Register pointers across
// calls for the same register; this is how the allocator keeps one
// interference-graph node per register.
type Instruction interface {
	// UsedRegisters returns the registers this instruction reads.
	UsedRegisters() []*Register
	// DefinedRegisters returns the registers this instruction writes.
	DefinedRegisters() []*Register
	// IsMove reports whether this is a move instruction. A move has
	// exactly one used and one defined register.
	IsMove() bool
	// IsCall reports whether this instruction transfers control to
	// another function, clobbering caller-saved registers. Frame.MakeCall
	// requires its call-site argument to report true here.
	IsCall() bool
	// IsTerminator reports whether this instruction ends a basic block.
	// When true, Successors defines every outgoing control-flow edge and
	// no implicit fall-through edge to the next instruction is added.
	// When false, FlowGraph always links this instruction to the next
	// one in program order and Successors is not consulted.
	IsTerminator() bool
	// Successors returns the indices, into the owning instruction list,
	// of this instruction's control-flow successors. Only meaningful
	// when IsTerminator is true; a return instruction reports none.
	Successors() []int
}
