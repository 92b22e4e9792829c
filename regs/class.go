// Package regs defines the register and register-class model shared by the
// flow-graph, interference-graph, frame, and allocator packages: an
// immutable register descriptor, a subclass lattice of register classes,
// and the Instruction contract instruction selectors must satisfy to feed
// the allocator.
package regs

import "fmt"

// Color identifies a concrete physical register. ColorNone means "not yet
// assigned a physical register".
type Color int32

// ColorNone is the color of a virtual register that has not been assigned
// a physical register yet.
const ColorNone Color = -1

// Class is a node in the subclass lattice of register classes. For two
// classes A, B: either A is a subclass of B, B is a subclass of A, or they
// are incomparable. Class is immutable once built by NewClass.
type Class struct {
	name    string
	id      int
	parent  *Class
	members []Color
}

// NewClass creates a register class named name containing members, whose
// subclass parent is parent (nil for a top-level class such as "any GPR").
// id must be unique among classes used together in one Architecture; it is
// used to index the pq-test memoization table.
func NewClass(id int, name string, parent *Class, members []Color) *Class {
	cp := make([]Color, len(members))
	copy(cp, members)
	return &Class{name: name, id: id, parent: parent, members: cp}
}

// ID returns the small integer identifying this class, stable for the
// lifetime of the class table.
func (c *Class) ID() int { return c.id }

// Name returns the class's human-readable name, used only for logging.
func (c *Class) Name() string { return c.name }

// K returns the available-color count of the class: |class|.
func (c *Class) K() int { return len(c.members) }

// Registers returns the physical register colors that belong to this
// class. The returned slice must not be mutated.
func (c *Class) Registers() []Color { return c.members }

// Has reports whether color r belongs to this class.
func (c *Class) Has(r Color) bool {
	for _, m := range c.members {
		if m == r {
			return true
		}
	}
	return false
}

// IsSubclassOf reports whether c is other, or a descendant of other in the
// subclass lattice (e.g. "callee-saved GPR" IsSubclassOf "any GPR").
func (c *Class) IsSubclassOf(other *Class) bool {
	for n := c; n != nil; n = n.parent {
		if n == other {
			return true
		}
	}
	return false
}

// CommonClass determines the smaller of two classes by the subclass
// relation: the class that is a subclass of the other. It fails (ok=false)
// when a and b are incomparable, which the caller surfaces as a
// ClassMismatchError.
func CommonClass(a, b *Class) (common *Class, ok bool) {
	if a.IsSubclassOf(b) {
		return a, true
	}
	if b.IsSubclassOf(a) {
		return b, true
	}
	return nil, false
}

// String implements fmt.Stringer for debug logging.
func (c *Class) String() string {
	if c == nil {
		return "<nil class>"
	}
	return fmt.Sprintf("%s(K=%d)", c.name, c.K())
}
