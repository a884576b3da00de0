package cfg

import (
	"fmt"

	"github.com/rot127/bda-go/bdaerr"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/weight"
)

// computeWeights walks the (already acyclic) graph in reverse
// topological order and assigns each node its weight per spec.md §4.3:
//
//	W(Return) = W(Exit) = 1
//	W(Normal) = W(Entry) = Σ W(succ)
//	W(Call)   = W(succ) · W(callee_entry)
//
// Edge biases are cached after each recompute. Returns a structural
// error if the CFG has no entry or the resulting entry weight is zero.
func (c *CFG) computeWeights() error {
	if !c.Graph.ContainsNode(c.entry) {
		return bdaerr.Structural(fmt.Sprintf("cfg: entry %v not in graph", c.entry))
	}
	order, err := c.Graph.TopoSort()
	if err != nil {
		return bdaerr.Structural(fmt.Sprintf("cfg: graph not acyclic after cycle resolution: %v", err))
	}
	c.revTopo = make([]flowgraph.NodeID, len(order))
	for i, n := range order {
		c.revTopo[len(order)-1-i] = n
	}

	zero := c.wmap.Zero()
	one := c.wmap.One()

	for _, n := range c.revTopo {
		meta, ok := c.Meta[n]
		if !ok {
			return bdaerr.Structural(fmt.Sprintf("cfg: no meta for node %v", n))
		}

		succs := c.Graph.Successors(n)
		succWeight := make(map[flowgraph.NodeID]weight.ID, len(succs))
		sum := zero
		for _, s := range succs {
			sm, ok := c.Meta[s]
			if !ok {
				return bdaerr.Structural(fmt.Sprintf("cfg: no meta for successor %v", s))
			}
			succWeight[s] = sm.Weight
			sum = c.wmap.Add(sum, sm.Weight)
		}

		switch meta.Type {
		case TypeReturn, TypeExit:
			meta.Weight = one
		case TypeNormal, TypeEntry:
			meta.Weight = sum
		case TypeCall:
			calleeWeight, known := c.CallTargetWeights[meta.CallTarget]
			if !known {
				return bdaerr.Structural(fmt.Sprintf("cfg: no weight set for called procedure %v", meta.CallTarget))
			}
			resolved := c.wmap.CallWeight(calleeWeight, false, meta.IsIndirectCall)
			meta.Weight = c.wmap.Mul(sum, resolved)
		default:
			return bdaerr.Structural(fmt.Sprintf("cfg: unknown node type for %v", n))
		}

		for s, sw := range succWeight {
			c.Graph.AddEdge(n, s, flowgraph.Bias{Numerator: sw, Denominator: meta.Weight})
		}
	}

	if c.wmap.Cmp(c.Weight(), zero) == 0 {
		return bdaerr.Structural("cfg: entry weight is 0 after resolution (no return/exit reachable)")
	}
	return nil
}

// SetCallTargetWeight records the resolved weight of a callee's entry,
// used by the owning ICFG during weight propagation (spec.md §4.4).
func (c *CFG) SetCallTargetWeight(callee flowgraph.NodeID, w weight.ID) {
	c.CallTargetWeights[callee] = w
}
