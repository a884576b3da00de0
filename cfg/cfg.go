package cfg

import (
	"fmt"

	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/weight"
)

// NodeType classifies a CFGNodeData for weight computation, per
// spec.md §3/§4.3.
type NodeType int

const (
	TypeEntry NodeType = iota
	TypeNormal
	TypeCall
	TypeReturn
	TypeExit
)

// CFGNodeData is the per-node metadata owned by a CFG: node identity, a
// current weight, and the ordered instruction-word contents.
type CFGNodeData struct {
	ID     flowgraph.NodeID
	Type   NodeType
	Weight weight.ID
	Insns  []InsnNodeData

	// CallTarget is set when Type == TypeCall: the NodeID of the callee's
	// entry, used to key CallTargetWeights. It starts as clone 0; after
	// iCFG cycle elimination, icfg.retargetClonedCall sets its ICFGClone
	// to the callee clone this call site was retargeted to.
	CallTarget       flowgraph.NodeID
	IsIndirectCall   bool
}

// CFG is a control-flow graph of a single procedure: a FlowGraph over
// instruction-word NodeIDs plus per-node metadata and a cache of
// resolved callee weights (spec.md §3/§4.3).
type CFG struct {
	Graph *flowgraph.Graph
	Meta  map[flowgraph.NodeID]*CFGNodeData

	// CallTargetWeights caches callee_NodeId -> Weight for call-node
	// weight computation.
	CallTargetWeights map[flowgraph.NodeID]weight.ID

	entry         flowgraph.NodeID
	revTopo       []flowgraph.NodeID
	wmap          *weight.Map
}

// New returns an empty CFG backed by wmap for weight interning.
func New(wmap *weight.Map) *CFG {
	return &CFG{
		Graph:             flowgraph.New(),
		Meta:              make(map[flowgraph.NodeID]*CFGNodeData),
		CallTargetWeights: make(map[flowgraph.NodeID]weight.ID),
		wmap:              wmap,
	}
}

// SetEntry designates n as the CFG's unique entry node.
func (c *CFG) SetEntry(n flowgraph.NodeID) {
	c.entry = n
}

// Entry returns the CFG's entry node.
func (c *CFG) Entry() flowgraph.NodeID { return c.entry }

// AddNode registers metadata for n if not already present.
func (c *CFG) AddNode(data CFGNodeData) {
	if _, ok := c.Meta[data.ID]; !ok {
		cp := data
		c.Meta[data.ID] = &cp
		c.Graph.AddNode(data.ID)
		if data.Type == TypeCall {
			if _, ok := c.CallTargetWeights[data.CallTarget]; !ok {
				c.CallTargetWeights[data.CallTarget] = c.wmap.Undetermined()
			}
		}
	}
}

// AddEdge adds an edge from -> to, registering endpoint metadata for
// either side if it is not yet present (spec.md §4.3 "Add edge").
func (c *CFG) AddEdge(from, to CFGNodeData) {
	c.AddNode(from)
	c.AddNode(to)
	if !c.Graph.ContainsEdge(from.ID, to.ID) {
		c.Graph.AddEdge(from.ID, to.ID, flowgraph.UnsetBias)
	}
}

// AddClonedEdge implements flowgraph.CloneSink: it looks up the
// metadata for the un-cloned addresses of from/to, synthesizes cloned
// copies, and adds the edge. CFG-level cloning duplicates instruction
// nodes, not call targets, so the edge flow classification is unused
// here (contrast icfg.ICFG.AddClonedEdge, which uses it to decide
// whether to retarget a caller's call instruction).
func (c *CFG) AddClonedEdge(from, to flowgraph.NodeID, _ flowgraph.EdgeFlow) {
	fromOrig := flowgraph.New(from.Address)
	toOrig := flowgraph.New(to.Address)
	fromMeta, ok := c.Meta[fromOrig]
	if !ok {
		panic(fmt.Sprintf("cfg: no meta for original node %v", fromOrig))
	}
	toMeta, ok := c.Meta[toOrig]
	if !ok {
		panic(fmt.Sprintf("cfg: no meta for original node %v", toOrig))
	}
	fromClone := *fromMeta
	fromClone.ID = from
	toClone := *toMeta
	toClone.ID = to
	c.AddEdge(fromClone, toClone)
}

// HasNode reports whether n has metadata registered.
func (c *CFG) HasNode(n flowgraph.NodeID) bool {
	_, ok := c.Meta[n]
	return ok
}

// withCFGClone is passed to flowgraph.MakeAcyclic so CFG cycle
// resolution bumps the CFGClone field (ICFG resolution bumps ICFGClone
// instead, see icfg.MakeAcyclic).
func withCFGClone(n flowgraph.NodeID, c uint32) flowgraph.NodeID {
	return n.WithCFGClone(c)
}

// MakeAcyclic duplicates every SCC of the CFG up to dupBound times so
// the graph becomes a DAG, then recomputes node/edge weights. Per
// spec.md §4.3, it returns a structural (fatal) error if the resulting
// entry weight is zero.
func (c *CFG) MakeAcyclic(dupBound uint32) error {
	flowgraph.MakeAcyclic(c.Graph, c, dupBound, withCFGClone)
	return c.computeWeights()
}

// Weight returns the CFG's total weight, i.e. W(entry). Panics if
// weights have not yet been computed.
func (c *CFG) Weight() weight.ID {
	meta, ok := c.Meta[c.entry]
	if !ok {
		panic("cfg: weight requested before computeWeights")
	}
	return meta.Weight
}
