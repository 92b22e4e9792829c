package regalloc

import "fmt"

// UnimplementedSpillError reports that the pq-test could not classify every
// remaining node as trivially colorable and no further coalescing progress
// is possible: the allocator has reached the spillWorklist-nonempty branch
// of its control loop, which this implementation treats as fatal rather
// than emitting memory spill code.
type UnimplementedSpillError struct {
	FrameName string
	NodeCount int
}

func (e *UnimplementedSpillError) Error() string {
	return fmt.Sprintf("regalloc: frame %q needs to spill %d node(s), which this allocator does not implement", e.FrameName, e.NodeCount)
}

// ClassMismatchError reports that combine or common-class resolution was
// asked to compare two incomparable register classes, neither a subclass
// of the other. This indicates a bug in the instruction selector that
// produced the frame, not a condition the allocator can recover from.
type ClassMismatchError struct {
	FrameName string
	A, B      string
}

func (e *ClassMismatchError) Error() string {
	return fmt.Sprintf("regalloc: frame %q: register classes %q and %q are incomparable", e.FrameName, e.A, e.B)
}
