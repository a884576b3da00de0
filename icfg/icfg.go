// Package icfg implements the inter-procedural control-flow graph:
// nodes are procedure entries, edges are calls. It owns the per-
// procedure reader/writer locking described in SPEC_FULL.md §7,
// generalizing the teacher's memory.Bank pattern of hiding shared
// mutable state behind a narrow accessor interface (memory/memory.go)
// to a concurrent map of procedures.
package icfg

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rot127/bda-go/bdaerr"
	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/weight"
)

// ProcedureHandle gates access to a Procedure behind a per-procedure
// reader/writer lock, so many readers (path sampling, interpretation)
// can proceed concurrently with occasional writers (cycle resolution,
// weight computation, iCFG folding), per SPEC_FULL.md §7.
type ProcedureHandle struct {
	mu   sync.RWMutex
	proc *cfg.Procedure
}

// RLock acquires the read lock and returns the Procedure.
func (h *ProcedureHandle) RLock() *cfg.Procedure {
	h.mu.RLock()
	return h.proc
}

// RUnlock releases the read lock.
func (h *ProcedureHandle) RUnlock() { h.mu.RUnlock() }

// Lock acquires the write lock and returns the Procedure.
func (h *ProcedureHandle) Lock() *cfg.Procedure {
	h.mu.Lock()
	return h.proc
}

// Unlock releases the write lock.
func (h *ProcedureHandle) Unlock() { h.mu.Unlock() }

// ICFG owns a FlowGraph over procedure-entry NodeIDs and a map of
// procedures, each behind its own ProcedureHandle (spec.md §3/§5).
type ICFG struct {
	Graph      *flowgraph.Graph
	procedures map[flowgraph.NodeID]*ProcedureHandle
	procMu     sync.RWMutex

	entries []uint64
	revTopo []flowgraph.NodeID
	wmap    *weight.Map
}

// New returns an empty ICFG backed by wmap.
func New(wmap *weight.Map) *ICFG {
	return &ICFG{
		Graph:      flowgraph.New(),
		procedures: make(map[flowgraph.NodeID]*ProcedureHandle),
		wmap:       wmap,
	}
}

// AddProcedure registers proc at entry, if not already present.
func (g *ICFG) AddProcedure(entry flowgraph.NodeID, proc *cfg.Procedure) {
	g.procMu.Lock()
	defer g.procMu.Unlock()
	if _, ok := g.procedures[entry]; !ok {
		g.procedures[entry] = &ProcedureHandle{proc: proc}
		g.Graph.AddNode(entry)
	}
}

// HasProcedure reports whether entry has a registered procedure.
func (g *ICFG) HasProcedure(entry flowgraph.NodeID) bool {
	g.procMu.RLock()
	defer g.procMu.RUnlock()
	_, ok := g.procedures[entry]
	return ok
}

// Procedure returns the handle for entry, or nil if absent.
func (g *ICFG) Procedure(entry flowgraph.NodeID) *ProcedureHandle {
	g.procMu.RLock()
	defer g.procMu.RUnlock()
	return g.procedures[entry]
}

// AddEdge adds a call edge from -> to, registering either endpoint's
// Procedure if it is new (spec.md §4.4).
func (g *ICFG) AddEdge(from flowgraph.NodeID, fromProc *cfg.Procedure, to flowgraph.NodeID, toProc *cfg.Procedure) bool {
	g.AddProcedure(from, fromProc)
	g.AddProcedure(to, toProc)
	if g.Graph.ContainsEdge(from, to) {
		return false
	}
	g.Graph.AddEdge(from, to, flowgraph.UnsetBias)
	return true
}

// HasEdge reports whether a call edge from -> to exists.
func (g *ICFG) HasEdge(from, to flowgraph.NodeID) bool {
	return g.Graph.ContainsEdge(from, to)
}

// IsMalloc/IsInput/IsUnmapped report the external-collaborator flags of
// the procedure at n, defaulting to false if n is unknown.
func (g *ICFG) IsMalloc(n flowgraph.NodeID) bool   { return g.flag(n, func(p *cfg.Procedure) bool { return p.IsMalloc }) }
func (g *ICFG) IsInput(n flowgraph.NodeID) bool    { return g.flag(n, func(p *cfg.Procedure) bool { return p.IsInput }) }
func (g *ICFG) IsUnmapped(n flowgraph.NodeID) bool { return g.flag(n, func(p *cfg.Procedure) bool { return p.IsUnmapped }) }

func (g *ICFG) flag(n flowgraph.NodeID, get func(*cfg.Procedure) bool) bool {
	h := g.Procedure(n)
	if h == nil {
		return false
	}
	p := h.RLock()
	defer h.RUnlock()
	return get(p)
}

// HasMalloc reports whether any procedure in the graph is flagged
// is_malloc (spec.md §4.7's pre-run check).
func (g *ICFG) HasMalloc() bool {
	g.procMu.RLock()
	defer g.procMu.RUnlock()
	for _, h := range g.procedures {
		if h.proc.IsMalloc {
			return true
		}
	}
	return false
}

// SetEntries records the user-designated or binary-derived entry-point
// addresses.
func (g *ICFG) SetEntries(addrs []uint64) { g.entries = addrs }

// Entries returns the configured entry-point addresses.
func (g *ICFG) Entries() []uint64 { return g.entries }

// AllProcedures returns a snapshot of every registered procedure handle,
// keyed by its entry NodeID. Used by PosteriorAnalyzer (package post) to
// flatten every procedure's CFG into one program-wide edge set, mirroring
// ResolveLoops' own snapshot-then-release pattern.
func (g *ICFG) AllProcedures() map[flowgraph.NodeID]*ProcedureHandle {
	g.procMu.RLock()
	defer g.procMu.RUnlock()
	out := make(map[flowgraph.NodeID]*ProcedureHandle, len(g.procedures))
	for k, v := range g.procedures {
		out[k] = v
	}
	return out
}

// NumProcedures returns the number of registered procedures.
func (g *ICFG) NumProcedures() int {
	g.procMu.RLock()
	defer g.procMu.RUnlock()
	return len(g.procedures)
}

// AddClonedEdge implements flowgraph.CloneSink for ICFG-level cycle
// resolution: it clones the Procedure at each un-cloned endpoint (with
// a fresh ICFGClone id) before wiring the edge. Only back/forward
// edges — both endpoints inside the duplicated group — represent a
// real call instruction that must be retargeted to the matching clone
// (spec.md §4.4); external-in/-out edges are a boundary fan-out/fan-in
// used purely for acyclic weight propagation, and leave the one real
// call site pointed at whichever clone it already targets.
func (g *ICFG) AddClonedEdge(from, to flowgraph.NodeID, flow flowgraph.EdgeFlow) {
	g.ensureClone(from)
	g.ensureClone(to)
	if !g.Graph.ContainsEdge(from, to) {
		g.Graph.AddEdge(from, to, flowgraph.UnsetBias)
	}
	if flow == flowgraph.FlowBackEdge || flow == flowgraph.FlowForwardEdge {
		g.retargetClonedCall(from, to)
	}
}

func (g *ICFG) ensureClone(n flowgraph.NodeID) {
	g.procMu.Lock()
	defer g.procMu.Unlock()
	if _, ok := g.procedures[n]; ok {
		return
	}
	orig := flowgraph.New(n.Address)
	origHandle, ok := g.procedures[orig]
	if !ok {
		panic(fmt.Sprintf("icfg: no original procedure for clone %v", n))
	}
	origProc := origHandle.RLock()
	clone := origProc.Clone(n.ICFGClone)
	origHandle.RUnlock()
	g.procedures[n] = &ProcedureHandle{proc: clone}
	g.Graph.AddNode(n)
}

// retargetClonedCall rewrites the call instruction at `from`'s CFG (if
// any) whose original call target lands on the procedure now cloned as
// `to`, so a clone-k iCFG edge is realized by a clone-k call target
// inside the caller's CFG, per spec.md §4.4.
func (g *ICFG) retargetClonedCall(from, to flowgraph.NodeID) {
	h := g.Procedure(from)
	if h == nil {
		return
	}
	p := h.Lock()
	defer h.Unlock()
	if p.CFG == nil {
		return
	}
	for _, meta := range p.CFG.Meta {
		if meta.CallTarget.Address == to.Address && meta.CallTarget.ICFGClone != to.ICFGClone {
			meta.CallTarget = meta.CallTarget.WithICFGClone(to.ICFGClone)
		}
		for i, insn := range meta.Insns {
			for j, ct := range insn.CallTargets {
				if ct.Address == to.Address && ct.ICFGClone != to.ICFGClone {
					meta.Insns[i].CallTargets[j] = ct.WithICFGClone(to.ICFGClone)
				}
			}
		}
	}
}

func withICFGClone(n flowgraph.NodeID, c uint32) flowgraph.NodeID {
	return n.WithICFGClone(c)
}

// MakeAcyclic resolves cycles purely at the iCFG level (procedure
// recursion), per spec.md §4.4. Callers normally use ResolveLoops,
// which also resolves intra-procedure cycles first.
func (g *ICFG) MakeAcyclic(dupBound uint32) error {
	flowgraph.MakeAcyclic(g.Graph, g, dupBound, withICFGClone)
	return g.propagateWeights()
}

// ResolveLoops performs the full two-level cycle-elimination pass of
// spec.md §4.4: every procedure's CFG is first made acyclic in
// parallel (up to numThreads concurrent workers, via errgroup, in the
// teacher's style of replacing a hand-rolled thread table with a
// bounded worker group), then the iCFG itself is made acyclic
// (duplicating recursive procedures), and finally weights are
// propagated callee-to-caller in reverse topological order of the
// call graph.
func (g *ICFG) ResolveLoops(numThreads int, dupBound uint32) error {
	g.procMu.RLock()
	handles := make([]*ProcedureHandle, 0, len(g.procedures))
	for _, h := range g.procedures {
		handles = append(handles, h)
	}
	g.procMu.RUnlock()

	eg := new(errgroup.Group)
	if numThreads > 0 {
		eg.SetLimit(numThreads)
	}
	for _, h := range handles {
		h := h
		eg.Go(func() error {
			p := h.Lock()
			defer h.Unlock()
			if p.CFG == nil {
				return nil
			}
			return p.CFG.MakeAcyclic(dupBound)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	return g.MakeAcyclic(dupBound)
}

// propagateWeights walks procedures in reverse topological order and,
// for each, sets the CFG's CallTargetWeights from successor procedures'
// CFG weights before recomputing that CFG's weight, per spec.md §4.4.
func (g *ICFG) propagateWeights() error {
	order, err := g.Graph.TopoSort()
	if err != nil {
		return bdaerr.Structural(fmt.Sprintf("icfg: not acyclic after cycle resolution: %v", err))
	}
	g.revTopo = make([]flowgraph.NodeID, len(order))
	for i, n := range order {
		g.revTopo[len(order)-1-i] = n
	}

	for _, paddr := range g.revTopo {
		h := g.Procedure(paddr)
		if h == nil {
			return bdaerr.Structural(fmt.Sprintf("icfg: no procedure for %v", paddr))
		}
		p := h.Lock()
		if p.CFG != nil {
			for _, callee := range g.Graph.Successors(paddr) {
				ch := g.Procedure(callee)
				if ch == nil {
					h.Unlock()
					return bdaerr.Structural(fmt.Sprintf("icfg: no procedure for callee %v", callee))
				}
				calleeProc := ch.RLock()
				var cw weight.ID
				switch {
				case calleeProc.IsMalloc || calleeProc.IsInput || calleeProc.IsUnmapped:
					cw = g.wmap.One()
				case calleeProc.CFG != nil:
					cw = calleeProc.CFG.Weight()
				default:
					cw = g.wmap.Undetermined()
				}
				ch.RUnlock()
				p.CFG.SetCallTargetWeight(callee, cw)
			}
			if err := p.CFG.MakeAcyclic(0); err != nil {
				// dupBound 0 here is a no-op re-resolve: the CFG is
				// already acyclic from ResolveLoops' first pass, we
				// only need computeWeights to rerun with fresh
				// CallTargetWeights. MakeAcyclic recomputes weights as
				// its last step regardless of dupBound.
				h.Unlock()
				return err
			}
			for _, s := range g.Graph.Successors(paddr) {
				sh := g.Procedure(s)
				sp := sh.RLock()
				sw := sp.CFG.Weight()
				sh.RUnlock()
				g.Graph.AddEdge(paddr, s, flowgraph.Bias{Numerator: sw, Denominator: p.CFG.Weight()})
			}
		}
		h.Unlock()
	}
	return nil
}
