package flowgraph

import (
	"fmt"
	"sort"

	"github.com/rot127/bda-go/weight"
)

// Bias is the sampling-bias edge payload: a cached (numerator,
// denominator) pair of interned weights representing W(successor)/W(src).
type Bias struct {
	Numerator, Denominator weight.ID
}

// UnsetBias is the placeholder bias for edges whose weight has not yet
// been computed.
var UnsetBias = Bias{}

// Graph is a directed graph keyed by NodeID with Bias-decorated
// edges. It holds at most one edge per ordered pair of nodes: adding an
// edge that already exists replaces its bias, so parallel edges are not
// represented. It carries no node payload; payloads live in the CFG/ICFG side
// tables that own a Graph (spec.md §4.2).
type Graph struct {
	succ map[NodeID]map[NodeID]Bias
	pred map[NodeID]map[NodeID]struct{}
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		succ: make(map[NodeID]map[NodeID]Bias),
		pred: make(map[NodeID]map[NodeID]struct{}),
	}
}

// AddNode inserts n with no edges if it is not already present.
func (g *Graph) AddNode(n NodeID) {
	if _, ok := g.succ[n]; !ok {
		g.succ[n] = make(map[NodeID]Bias)
	}
	if _, ok := g.pred[n]; !ok {
		g.pred[n] = make(map[NodeID]struct{})
	}
}

// ContainsNode reports whether n has been added to the graph.
func (g *Graph) ContainsNode(n NodeID) bool {
	_, ok := g.succ[n]
	return ok
}

// AddEdge adds a directed edge from -> to with the given bias,
// inserting either endpoint if missing. Idempotent in the sense that a
// repeated call overwrites the bias rather than creating a parallel edge
// with a stale weight.
func (g *Graph) AddEdge(from, to NodeID, bias Bias) {
	g.AddNode(from)
	g.AddNode(to)
	g.succ[from][to] = bias
	g.pred[to][from] = struct{}{}
}

// ContainsEdge reports whether an edge from -> to exists.
func (g *Graph) ContainsEdge(from, to NodeID) bool {
	if s, ok := g.succ[from]; ok {
		_, ok := s[to]
		return ok
	}
	return false
}

// RemoveEdge deletes the edge from -> to if present.
func (g *Graph) RemoveEdge(from, to NodeID) {
	if s, ok := g.succ[from]; ok {
		delete(s, to)
	}
	if p, ok := g.pred[to]; ok {
		delete(p, from)
	}
}

// RemoveNode deletes n and all incident edges.
func (g *Graph) RemoveNode(n NodeID) {
	for succ := range g.succ[n] {
		delete(g.pred[succ], n)
	}
	for pred := range g.pred[n] {
		delete(g.succ[pred], n)
	}
	delete(g.succ, n)
	delete(g.pred, n)
}

// Successors returns the direct successors of n.
func (g *Graph) Successors(n NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.succ[n]))
	for s := range g.succ[n] {
		out = append(out, s)
	}
	return out
}

// Predecessors returns the direct predecessors of n.
func (g *Graph) Predecessors(n NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.pred[n]))
	for p := range g.pred[n] {
		out = append(out, p)
	}
	return out
}

// Bias returns the edge payload for from -> to, if the edge exists.
func (g *Graph) Bias(from, to NodeID) (Bias, bool) {
	b, ok := g.succ[from][to]
	return b, ok
}

// Nodes returns all nodes currently in the graph, in unspecified order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.succ))
	for n := range g.succ {
		out = append(out, n)
	}
	return out
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.succ) }

// NumEdges returns the number of directed edges in the graph.
func (g *Graph) NumEdges() int {
	n := 0
	for _, s := range g.succ {
		n += len(s)
	}
	return n
}

// AllEdges calls fn for every edge in the graph.
func (g *Graph) AllEdges(fn func(from, to NodeID, b Bias)) {
	for from, s := range g.succ {
		for to, b := range s {
			fn(from, to, b)
		}
	}
}

// ErrCyclic is returned by TopoSort when the graph is not acyclic.
type ErrCyclic struct{}

func (ErrCyclic) Error() string { return "flowgraph: graph contains a cycle, cannot topologically sort" }

// TopoSort returns a topological order of the graph's nodes (sources
// first), or ErrCyclic if the graph is not a DAG.
func (g *Graph) TopoSort() ([]NodeID, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[NodeID]int, len(g.succ))
	order := make([]NodeID, 0, len(g.succ))
	var cyclic bool

	var visit func(n NodeID)
	visit = func(n NodeID) {
		if cyclic {
			return
		}
		color[n] = gray
		// Sort successors for determinism.
		succs := g.Successors(n)
		sortNodeIDs(succs)
		for _, s := range succs {
			switch color[s] {
			case white:
				visit(s)
			case gray:
				cyclic = true
				return
			}
			if cyclic {
				return
			}
		}
		color[n] = black
		order = append(order, n)
	}

	nodes := g.Nodes()
	sortNodeIDs(nodes)
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
		if cyclic {
			return nil, ErrCyclic{}
		}
	}
	// order currently lists nodes in finish order (sinks first); reverse
	// for a standard source-first topological order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// TarjanSCC returns the strongly connected components of the graph in
// reverse topological order of the condensation, matching the guarantee
// spec.md §4.2 requires of the underlying algorithm.
func (g *Graph) TarjanSCC() [][]NodeID {
	index := 0
	indices := make(map[NodeID]int)
	lowlink := make(map[NodeID]int)
	onStack := make(map[NodeID]bool)
	var stack []NodeID
	var result [][]NodeID

	nodes := g.Nodes()
	sortNodeIDs(nodes)

	var strongconnect func(v NodeID)
	strongconnect = func(v NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		succs := g.Successors(v)
		sortNodeIDs(succs)
		for _, w := range succs {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []NodeID
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			result = append(result, scc)
		}
	}

	for _, n := range nodes {
		if _, seen := indices[n]; !seen {
			strongconnect(n)
		}
	}
	return result
}

func sortNodeIDs(ns []NodeID) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Less(ns[j]) })
}

// String renders a compact debug representation of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph{nodes=%d edges=%d}", g.NumNodes(), g.NumEdges())
}
