package driver

import (
	"github.com/rot127/bda-go/bdastate"
	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/interp"
)

// updateICFG implements spec.md §4.7's update_icfg: it drains every
// unhandled ConcreteCodeXref accumulated since the last fold and
// applies it to the iCFG/CFG graph structure, returning true if any
// procedure was edited (the caller reruns resolve_loops only then).
func (d *Driver) updateICFG(state *bdastate.BDAState) bool {
	xrefs := state.DrainUnhandledXrefs()
	edited := false
	for _, x := range xrefs {
		switch x.Kind {
		case interp.IndirectCall:
			if d.foldIndirectCall(x) {
				edited = true
			}
		case interp.IndirectJump:
			if d.foldIndirectJump(x) {
				edited = true
			}
		}
	}
	return edited
}

// foldIndirectCall adds the iCFG edge for a newly observed indirect
// call, lazily creating the callee's Procedure via the external
// disassembler if it is not already known, per spec.md §4.7. The call
// site must already lie in a registered procedure; otherwise the xref
// is dropped.
func (d *Driver) foldIndirectCall(x interp.ConcreteCodeXref) bool {
	fromEntry, ok := d.findOwningProcedure(x.From)
	if !ok {
		d.Log.Warnf("update_icfg: no owning procedure for call site %#x, dropping xref", x.From)
		return false
	}
	toEntry := flowgraph.New(x.To)
	if d.ICFG.HasEdge(fromEntry, toEntry) {
		return false
	}

	fromHandle := d.ICFG.Procedure(fromEntry)
	fromProc := fromHandle.RLock()
	fromHandle.RUnlock()

	toProc, err := d.ensureProcedure(x.To)
	if err != nil {
		d.Log.Warnf("update_icfg: %v, dropping call xref %#x -> %#x", err, x.From, x.To)
		return false
	}

	return d.ICFG.AddEdge(fromEntry, fromProc, toEntry, toProc)
}

// foldIndirectJump adds a new jump target to the instruction node at
// x.From unless the jump target leaves the owning procedure entirely —
// a tail call into a not-yet-known procedure, discarded with a warning
// per spec.md §9's documented open item (DESIGN.md "Decided Open
// Questions").
func (d *Driver) foldIndirectJump(x interp.ConcreteCodeXref) bool {
	fromEntry, ok := d.findOwningProcedure(x.From)
	if !ok {
		d.Log.Warnf("update_icfg: no owning procedure for jump site %#x, dropping xref", x.From)
		return false
	}
	toNode := flowgraph.New(x.To)

	h := d.ICFG.Procedure(fromEntry)
	p := h.Lock()
	defer h.Unlock()
	if p.CFG == nil || !p.CFG.HasNode(toNode) {
		d.Log.Warnf("[Unimplemented] Skip adding tail call from %#x to %#x", x.From, x.To)
		return false
	}

	fromNode := flowgraph.New(x.From)
	fromMeta, ok := p.CFG.Meta[fromNode]
	if !ok {
		return false
	}
	toMeta := p.CFG.Meta[toNode]
	p.CFG.AddEdge(*fromMeta, *toMeta)
	for i := range fromMeta.Insns {
		if fromMeta.Insns[i].Address == x.From {
			fromMeta.Insns[i].JumpTargets = append(fromMeta.Insns[i].JumpTargets, toNode)
		}
	}
	return true
}

// findOwningProcedure searches every registered procedure's CFG for a
// node at addr, returning the owning procedure's entry NodeID. Concrete
// xrefs carry plain addresses (clone identity is not preserved past the
// interpreter's IntrpProducts), so this matches on address alone.
func (d *Driver) findOwningProcedure(addr uint64) (flowgraph.NodeID, bool) {
	target := flowgraph.New(addr)
	for entry, h := range d.ICFG.AllProcedures() {
		p := h.RLock()
		found := p.CFG != nil && p.CFG.HasNode(target)
		h.RUnlock()
		if found {
			return entry, true
		}
	}
	return flowgraph.InvalidNodeID, false
}

// ensureProcedure returns the Procedure registered at addr, lazily
// creating one via the external disassembler (or as an external-
// collaborator stub, if so classified) when none is yet known.
func (d *Driver) ensureProcedure(addr uint64) (*cfg.Procedure, error) {
	entry := flowgraph.New(addr)
	if h := d.ICFG.Procedure(entry); h != nil {
		p := h.RLock()
		defer h.RUnlock()
		return p, nil
	}
	switch {
	case d.Disasm.IsMalloc(addr):
		return &cfg.Procedure{IsMalloc: true}, nil
	case d.Disasm.IsInput(addr):
		return &cfg.Procedure{IsInput: true}, nil
	case d.Disasm.IsUnmapped(addr):
		return &cfg.Procedure{IsUnmapped: true}, nil
	default:
		ccfg, err := d.Disasm.ProcedureCFG(addr)
		if err != nil {
			return nil, err
		}
		return &cfg.Procedure{CFG: ccfg}, nil
	}
}
