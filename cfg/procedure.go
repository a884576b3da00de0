package cfg

import "github.com/rot127/bda-go/flowgraph"

// Procedure wraps a CFG with the external-collaborator flags of
// spec.md §3: is_malloc / is_input / is_unmapped mean "no body,
// external". A Procedure has a stable entry NodeID.
type Procedure struct {
	CFG        *CFG
	IsMalloc   bool
	IsInput    bool
	IsUnmapped bool
}

// Entry returns the procedure's CFG entry node, or flowgraph.InvalidNodeID
// if this is an external (unmapped) procedure with no CFG.
func (p *Procedure) Entry() flowgraph.NodeID {
	if p.CFG == nil {
		return flowgraph.InvalidNodeID
	}
	return p.CFG.Entry()
}

// Clone duplicates the Procedure and its CFG, substituting icfgClone
// throughout every contained NodeID (spec.md §4.4's "every call-target
// NodeID inside a cloned CFG is rewritten").
func (p *Procedure) Clone(icfgClone uint32) *Procedure {
	if p.CFG == nil {
		return &Procedure{IsMalloc: p.IsMalloc, IsInput: p.IsInput, IsUnmapped: p.IsUnmapped}
	}
	newCFG := New(p.CFG.wmap)
	remap := func(n flowgraph.NodeID) flowgraph.NodeID {
		return n.WithICFGClone(icfgClone)
	}
	for id, meta := range p.CFG.Meta {
		cp := *meta
		cp.ID = remap(id)
		cp.CallTarget = remap(meta.CallTarget)
		cp.Insns = make([]InsnNodeData, len(meta.Insns))
		for i, insn := range meta.Insns {
			ni := insn
			ni.CallTargets = remapAll(insn.CallTargets, remap)
			ni.JumpTargets = remapAll(insn.JumpTargets, remap)
			if insn.HasFallThrough {
				ni.FallThrough = remap(insn.FallThrough)
			}
			cp.Insns[i] = ni
		}
		newCFG.Meta[cp.ID] = &cp
		newCFG.Graph.AddNode(cp.ID)
	}
	p.CFG.Graph.AllEdges(func(from, to flowgraph.NodeID, b flowgraph.Bias) {
		newCFG.Graph.AddEdge(remap(from), remap(to), b)
	})
	for target, w := range p.CFG.CallTargetWeights {
		newCFG.CallTargetWeights[remap(target)] = w
	}
	newCFG.SetEntry(remap(p.CFG.Entry()))
	return &Procedure{CFG: newCFG, IsMalloc: p.IsMalloc, IsInput: p.IsInput, IsUnmapped: p.IsUnmapped}
}

func remapAll(ns []flowgraph.NodeID, remap func(flowgraph.NodeID) flowgraph.NodeID) []flowgraph.NodeID {
	if ns == nil {
		return nil
	}
	out := make([]flowgraph.NodeID, len(ns))
	for i, n := range ns {
		out[i] = remap(n)
	}
	return out
}
