package flowgraph

// MinDuplicateBound is the default clone bound d for cycle resolution
// (spec.md §4.3), overridable via config's node_duplicates option.
const MinDuplicateBound = 3

// EdgeFlow classifies an SCC-incident edge for the duplication rewrite.
// A CloneSink uses it to decide whether a cloned edge represents a real
// call/jump instruction that must be retargeted (back/forward, both
// endpoints inside the duplicated group) versus a boundary fan-out/
// fan-in that leaves the caller's or callee's own instructions alone
// (external-in/-out: exactly one endpoint is outside the group).
type EdgeFlow int

const (
	FlowOutsiderIn EdgeFlow = iota
	FlowOutsiderOut
	FlowBackEdge
	FlowForwardEdge
)

// CloneSink is implemented by graph owners (CFG, ICFG) that know how to
// materialize a cloned node's side-table metadata before an edge
// involving it is added to the graph. AddClonedEdge must be idempotent.
type CloneSink interface {
	// AddClonedEdge adds an edge between two (possibly cloned) NodeIDs,
	// creating any missing per-node metadata for them first. flow
	// indicates whether from/to sit on the boundary of the duplicated
	// group or strictly inside it.
	AddClonedEdge(from, to NodeID, flow EdgeFlow)
}

// IsBackEdge implements the back-edge heuristic from spec.md §4.3: an
// intra-SCC edge u->v is a back-edge iff address(u) >= address(v). This
// is a cheap, local, and deliberately approximate check (see Open
// Question 1 in spec.md §9); it is not sound for architectures where a
// high address may branch forward into an SCC.
func IsBackEdge(from, to NodeID) bool {
	return from.Address >= to.Address
}

// MakeAcyclic removes cycles from g by duplicating every SCC of size >=
// 2 (a self-loop on a single node also counts, per spec.md §4.3) up to
// dupBound times, rewriting edges per the four classes: edges into the
// SCC from outside are fanned out to every clone of their target; edges
// out of the SCC are fanned in from every clone of their source; forward
// intra-SCC edges are cloned clone-for-clone; back edges connect clone c
// to clone c+1, cutting the cycle at the last clone. sink is notified of
// every new edge so it can materialize NodeID metadata for clones.
func MakeAcyclic(g *Graph, sink CloneSink, dupBound uint32, withClone func(NodeID, uint32) NodeID) {
	sccs := g.TarjanSCC()
	type group struct {
		members []NodeID
		edges   map[[2]NodeID]struct{}
	}
	var groups []group
	for _, scc := range sccs {
		if len(scc) <= 1 {
			// A lone node only counts as an SCC of size 1 if it has a
			// self-loop; otherwise it is already acyclic.
			if len(scc) == 1 && !g.ContainsEdge(scc[0], scc[0]) {
				continue
			}
			if len(scc) == 0 {
				continue
			}
		}
		inSCC := make(map[NodeID]bool, len(scc))
		for _, n := range scc {
			inSCC[n] = true
		}
		edges := make(map[[2]NodeID]struct{})
		for _, n := range scc {
			for _, pred := range g.Predecessors(n) {
				edges[[2]NodeID{pred, n}] = struct{}{}
			}
			for _, succ := range g.Successors(n) {
				edges[[2]NodeID{n, succ}] = struct{}{}
			}
		}
		groups = append(groups, group{members: scc, edges: edges})
	}

	for _, grp := range groups {
		inSCC := make(map[NodeID]bool, len(grp.members))
		for _, n := range grp.members {
			inSCC[n] = true
		}
		for edge := range grp.edges {
			from, to := edge[0], edge[1]
			switch {
			case !inSCC[from]:
				// External-in: fan out to every clone of the target.
				cloneEdges(g, sink, from, to, dupBound, FlowOutsiderIn, withClone)
			case !inSCC[to]:
				// External-out: fan in from every clone of the source.
				cloneEdges(g, sink, from, to, dupBound, FlowOutsiderOut, withClone)
			case IsBackEdge(from, to):
				cloneEdges(g, sink, from, to, dupBound, FlowBackEdge, withClone)
				g.RemoveEdge(from, to)
			default:
				// Forward edges: clone c=0 of (from,to) *is* the original
				// edge (withClone(_, 0) is a no-op), so cloneEdges already
				// reconstructs it — unlike the back-edge case, there is no
				// surviving original edge left to remove here.
				cloneEdges(g, sink, from, to, dupBound, FlowForwardEdge, withClone)
			}
		}
	}
}

func cloneEdges(g *Graph, sink CloneSink, from, to NodeID, dupBound uint32, flow EdgeFlow, withClone func(NodeID, uint32) NodeID) {
	for c := uint32(0); c <= dupBound; c++ {
		if flow == FlowBackEdge && c == dupBound {
			// The last clone has no back-edge successor, cutting the cycle.
			break
		}
		var newFrom, newTo NodeID
		switch flow {
		case FlowOutsiderIn:
			newFrom, newTo = from, withClone(to, c)
		case FlowOutsiderOut:
			newFrom, newTo = withClone(from, c), to
		case FlowBackEdge:
			newFrom, newTo = withClone(from, c), withClone(to, c+1)
		case FlowForwardEdge:
			newFrom, newTo = withClone(from, c), withClone(to, c)
		}
		sink.AddClonedEdge(newFrom, newTo, flow)
	}
}
