// Package interference builds and maintains the register-interference
// graph the allocator colors. Nodes are addressed by stable pointer
// identity into a flat slice owned by the Graph, which keeps masking and
// combining cheap without any separate indirection table.
package interference

import (
	"fmt"
	"sort"

	"github.com/talus-lang/talus/flowgraph"
	"github.com/talus-lang/talus/regs"
)

// Node represents one or more registers forced to share a physical
// assignment.
type Node struct {
	id         int
	temps      map[*regs.Register]struct{}
	class      *regs.Class
	neighbors  map[*Node]struct{}
	moves      map[regs.Instruction]struct{}
	precolored bool
	masked     bool
	color      regs.Color
	mergedInto *Node
}

// ID returns the node's index, stable for the graph's lifetime (including
// across combine, which retires v but never renumbers u).
func (n *Node) ID() int { return n.id }

// Temps returns the registers this node represents.
func (n *Node) Temps() []*regs.Register {
	out := make([]*regs.Register, 0, len(n.temps))
	for r := range n.temps {
		out = append(out, r)
	}
	return out
}

// Class returns the node's current register class, narrowed whenever a
// combine merges in a node of a more specific class.
func (n *Node) Class() *regs.Class { return n.class }

// SetClass narrows the node's class. Only the allocator's combine step
// calls this.
func (n *Node) SetClass(c *regs.Class) { n.class = c }

// Precolored reports whether this node originated as a pre-colored
// (physical) register.
func (n *Node) Precolored() bool { return n.precolored }

// Color returns the node's assigned color, or regs.ColorNone if none
// assigned yet. A pre-colored node's color is fixed at creation and never
// changes.
func (n *Node) Color() regs.Color { return n.color }

// SetColor assigns a physical register to this node.
func (n *Node) SetColor(c regs.Color) { n.color = c }

// IsColored reports whether this node has a color (pre-colored nodes
// always do; virtual nodes do once assignColors visits them).
func (n *Node) IsColored() bool { return n.precolored || n.color != regs.ColorNone }

// Moves returns the move instructions touching this node.
func (n *Node) Moves() map[regs.Instruction]struct{} { return n.moves }

// MovesInOrder returns Moves(), ordered by the caller-supplied index
// (typically program order). Callers that fold this result into further
// worklist transitions need a stable order across runs; a bare range over
// Moves() does not provide one.
func (n *Node) MovesInOrder(index map[regs.Instruction]int) []regs.Instruction {
	out := make([]regs.Instruction, 0, len(n.moves))
	for m := range n.moves {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return index[out[i]] < index[out[j]] })
	return out
}

func (n *Node) String() string {
	temps := n.Temps()
	return fmt.Sprintf("node#%d{%v}", n.id, temps)
}

// Graph is the register-interference graph for one frame.
type Graph struct {
	nodes     []*Node
	regToNode map[*regs.Register]*Node
}

// Nodes returns every node ever created, including retired (combined-away)
// ones; callers that need only live nodes should check n.mergedInto via
// GetNode/resolve, not iterate this directly during coloring.
func (g *Graph) Nodes() []*Node { return g.nodes }

func (g *Graph) resolve(n *Node) *Node {
	for n.mergedInto != nil {
		n = n.mergedInto
	}
	return n
}

// GetNode returns the node currently representing r, following any
// combine redirection.
func (g *Graph) GetNode(r *regs.Register) *Node {
	n, ok := g.regToNode[r]
	if !ok {
		panic(fmt.Sprintf("BUG: register %v has no interference-graph node", r))
	}
	return g.resolve(n)
}

// HasEdge reports whether a and b interfere. A masked node reports no
// edges at all, since simplify relies on a removed node vanishing from
// its former neighbors' adjacency views.
func (g *Graph) HasEdge(a, b *Node) bool {
	a, b = g.resolve(a), g.resolve(b)
	if a == b || a.masked || b.masked {
		return false
	}
	_, ok := a.neighbors[b]
	return ok
}

func (g *Graph) addEdge(a, b *Node) {
	a, b = g.resolve(a), g.resolve(b)
	if a == b {
		return // a register never interferes with itself.
	}
	a.neighbors[b] = struct{}{}
	b.neighbors[a] = struct{}{}
}

// MaskNode temporarily removes n from adjacency views, modeling
// simplify's removal of a node from the graph without discarding it.
func (g *Graph) MaskNode(n *Node) { g.resolve(n).masked = true }

// UnmaskNode restores n to adjacency views, modeling assignColors'
// replay of simplified nodes back onto the graph in reverse order.
func (g *Graph) UnmaskNode(n *Node) { g.resolve(n).masked = false }

// adjacent returns n's unmasked neighbors, sorted by ID. Sorting turns an
// otherwise map-iteration-ordered (and so run-to-run unstable) result into a
// deterministic one, which the allocator's worklist transitions depend on
// for reproducible output.
func (n *Node) adjacent() []*Node {
	out := make([]*Node, 0, len(n.neighbors))
	for m := range n.neighbors {
		if !m.masked {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Adjacent returns g's view of n's unmasked neighbors, resolving n first
// in case it was combined into another node after the caller last looked
// it up.
func (g *Graph) Adjacent(n *Node) []*Node { return g.resolve(n).adjacent() }

// Combine destructively merges v into u: u.temps grows, edges incident
// to v become incident to u (deduplicated), u.moves grows, and v is
// retired. It panics if u and v already interfere, which the allocator
// must check before calling (a merge of two registers already shown to
// conflict would assign them the same color).
func (g *Graph) Combine(u, v *Node) {
	u, v = g.resolve(u), g.resolve(v)
	if u == v {
		panic("BUG: combine called with identical nodes")
	}
	if g.HasEdge(u, v) {
		panic("BUG: combine called on interfering nodes")
	}
	for r := range v.temps {
		u.temps[r] = struct{}{}
	}
	for m := range v.moves {
		u.moves[m] = struct{}{}
	}
	for n := range v.neighbors {
		if n == u {
			continue
		}
		delete(n.neighbors, v)
		n.neighbors[u] = struct{}{}
		u.neighbors[n] = struct{}{}
	}
	v.neighbors = nil
	v.temps = nil
	v.moves = nil
	v.mergedInto = u
}

// Build constructs the interference graph from a flow graph with liveness
// already computed. For each instruction that defines D with live-out set
// L, it adds an edge between every d in D and every l in L\{d}; for a
// move d <- s it additionally skips the (d, s) pair so the move remains a
// coalescing candidate.
//
// Walking live-out directly is equivalent to re-deriving a per-instruction
// live set via live <- (live\def) U use: flowgraph.FlowGraph.Liveness
// already solved that fixpoint, and live-out(n) is exactly the live set
// immediately after n executes.
func Build(fg *flowgraph.FlowGraph) *Graph {
	g := &Graph{regToNode: make(map[*regs.Register]*Node)}

	ensure := func(r *regs.Register) *Node {
		if n, ok := g.regToNode[r]; ok {
			return n
		}
		// A virtual register may already carry a leftover color from a
		// previous allocation pass over the same frame. Only a genuinely
		// pre-colored (physical) register's color is trustworthy input
		// here; everything else starts uncolored so isColorable's pq-test
		// is re-evaluated against the fresh graph rather than short
		// circuited by stale state.
		color := regs.ColorNone
		if r.Precolored() {
			color = r.Color()
		}
		n := &Node{
			id:         len(g.nodes),
			temps:      map[*regs.Register]struct{}{r: {}},
			class:      r.Class(),
			neighbors:  make(map[*Node]struct{}),
			moves:      make(map[regs.Instruction]struct{}),
			precolored: r.Precolored(),
			color:      color,
		}
		g.nodes = append(g.nodes, n)
		g.regToNode[r] = n
		return n
	}

	// Every register referenced anywhere gets a node, even one that never
	// interferes with anything.
	for _, fn := range fg.Nodes {
		for _, r := range fn.Use {
			ensure(r)
		}
		for _, r := range fn.Def {
			ensure(r)
		}
	}

	for _, fn := range fg.Nodes {
		isMove := fn.Instr.IsMove()
		var moveSrc, moveDst *regs.Register
		if isMove {
			moveSrc, moveDst = fn.Use[0], fn.Def[0]
			ensure(moveSrc).moves[fn.Instr] = struct{}{}
			ensure(moveDst).moves[fn.Instr] = struct{}{}
		}
		for _, d := range fn.Def {
			dn := ensure(d)
			for l := range fn.LiveOut {
				if l == d {
					continue
				}
				if isMove && d == moveDst && l == moveSrc {
					continue
				}
				g.addEdge(dn, ensure(l))
			}
		}
	}
	return g
}
