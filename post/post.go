// Package post implements the PosteriorAnalyzer: a single-threaded
// worklist dataflow pass over the final iCFG that turns the
// accumulated memory-operation sequences (MOS) of every interpreted
// path into the dependent-instruction-pair set DIP, per spec.md §4.8.
// Grounded in the teacher's explicit-state-machine dispatch style
// (cpu/cpu.go's Step loop) generalized from one opcode's register
// update to a map/set propagation over abstract addresses.
package post

import (
	"sort"

	"github.com/rot127/bda-go/bdaerr"
	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/disasm"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/icfg"
	"github.com/rot127/bda-go/interp"
	"github.com/rot127/bda-go/sampler"
)

// DependentPair is one (read, write) dependency: a sampled execution
// reaching the read instruction could observe a value stored by the
// write instruction.
type DependentPair struct {
	From uint64 // the read instruction
	To   uint64 // the defining write instruction
}

// DIP is the dependent-instruction-pair set, keyed (read, write).
type DIP map[[2]uint64]struct{}

// Add records (from, to) in d.
func (d DIP) Add(from, to uint64) { d[[2]uint64{from, to}] = struct{}{} }

// Has reports whether (from, to) is in d.
func (d DIP) Has(from, to uint64) bool {
	_, ok := d[[2]uint64{from, to}]
	return ok
}

// Sorted returns d's pairs ordered (From, To), for deterministic
// comparison and output.
func (d DIP) Sorted() []DependentPair {
	out := make([]DependentPair, 0, len(d))
	for k := range d {
		out = append(out, DependentPair{From: k[0], To: k[1]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// edgeClass distinguishes an intra-procedure successor from a call
// successor when walking the flattened program graph.
type edgeClass int

const (
	iedge edgeClass = iota
	cedge
)

// nodeMeta is the static, per-CFG-node classification PosteriorAnalyzer
// needs: its instruction kind (call/return/...) and, for call nodes,
// its resolved call targets. Unlike the driver's sampler.IWordInfo
// (which only records flags for instructions a sample actually
// visited), this comes straight off cfg.InsnNodeData, so every node the
// disassembler ever reported is classified, not just sampled ones.
type nodeMeta struct {
	kind        cfg.InsnKind
	callTargets []flowgraph.NodeID
}

// Analyzer holds the flattened, read-only view of the final iCFG that
// the worklist walk runs over: every procedure's intra-CFG edges
// (IEDGE) and call edges (CEDGE) merged into one program-wide graph,
// per spec.md §4.8's worklist walk.
type Analyzer struct {
	icfg     *icfg.ICFG
	disasm   disasm.Disassembler
	ranges   []sampler.Range
	entries  []flowgraph.NodeID
	meta     map[flowgraph.NodeID]nodeMeta
	ieSucc   map[flowgraph.NodeID][]flowgraph.NodeID
	ceSucc   map[flowgraph.NodeID][]flowgraph.NodeID
	semCache map[uint64]disasm.InsnSemantics
}

// New builds an Analyzer over the final (already cycle-resolved)
// iCFG's current procedure set. Call sites marked malloc/input/
// unmapped are recognized via ic's own classification, and
// memory-read/-write classification is derived from d's per-address
// instruction semantics rather than carried on a MemOp, since neither
// spec.md's literal MemOp(instr_addr, AbstractValue) nor the
// interpreter's recorded sequence distinguishes a load from a store.
func New(ic *icfg.ICFG, ranges []sampler.Range, d disasm.Disassembler) *Analyzer {
	a := &Analyzer{
		icfg:     ic,
		disasm:   d,
		ranges:   ranges,
		meta:     make(map[flowgraph.NodeID]nodeMeta),
		ieSucc:   make(map[flowgraph.NodeID][]flowgraph.NodeID),
		ceSucc:   make(map[flowgraph.NodeID][]flowgraph.NodeID),
		semCache: make(map[uint64]disasm.InsnSemantics),
	}
	for _, h := range ic.AllProcedures() {
		p := h.RLock()
		a.absorbProcedure(p)
		h.RUnlock()
	}
	for _, e := range ic.Entries() {
		a.entries = append(a.entries, flowgraph.New(e))
	}
	return a
}

func (a *Analyzer) absorbProcedure(p *cfg.Procedure) {
	if p.CFG == nil {
		return
	}
	p.CFG.Graph.AllEdges(func(from, to flowgraph.NodeID, _ flowgraph.Bias) {
		a.ieSucc[from] = append(a.ieSucc[from], to)
	})
	for _, meta := range p.CFG.Meta {
		var kind cfg.InsnKind
		var calls []flowgraph.NodeID
		for _, insn := range meta.Insns {
			kind |= insn.Kind
			calls = append(calls, insn.CallTargets...)
		}
		a.meta[meta.ID] = nodeMeta{kind: kind, callTargets: calls}
		if len(calls) > 0 {
			a.ceSucc[meta.ID] = append(a.ceSucc[meta.ID], calls...)
		}
	}
}

func (a *Analyzer) kindOf(n flowgraph.NodeID) cfg.InsnKind { return a.meta[n].kind }
func (a *Analyzer) isCall(n flowgraph.NodeID) bool         { return a.kindOf(n).Has(cfg.KindCall) }
func (a *Analyzer) isReturn(n flowgraph.NodeID) bool       { return a.kindOf(n).Has(cfg.KindReturn) }

// isCallToSkip reports whether n's call target(s) are all external
// (malloc/input/unmapped), in which case PosteriorAnalyzer never
// follows into the callee, per spec.md §4.8.
func (a *Analyzer) isCallToSkip(n flowgraph.NodeID) bool {
	targets := a.ceSucc[n]
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !(a.icfg.IsMalloc(t) || a.icfg.IsInput(t) || a.icfg.IsUnmapped(t)) {
			return false
		}
	}
	return true
}

// callIsFollowed reports whether n's call should be walked into: it is
// not skip-marked, and at least one of its targets falls within the
// configured address ranges.
func (a *Analyzer) callIsFollowed(n flowgraph.NodeID) bool {
	if a.isCallToSkip(n) {
		return false
	}
	for _, t := range a.ceSucc[n] {
		if sampler.InRanges(t.Address, a.ranges) {
			return true
		}
	}
	return false
}

func (a *Analyzer) semantics(addr uint64) (disasm.InsnSemantics, bool) {
	if s, ok := a.semCache[addr]; ok {
		return s, true
	}
	s, err := a.disasm.InstructionSemantics(addr)
	if err != nil {
		return disasm.InsnSemantics{}, false
	}
	a.semCache[addr] = s
	return s, true
}

func (a *Analyzer) isMemWrite(addr uint64) bool {
	s, ok := a.semantics(addr)
	return ok && s.Op == disasm.OpStore
}

func (a *Analyzer) isMemRead(addr uint64) bool {
	s, ok := a.semantics(addr)
	return ok && s.Op == disasm.OpLoad
}

// Run executes the posterior dependency analysis over samples — the
// per-path memory-operation sequences collected by bdastate.BDAState —
// and returns the accumulated DIP, per spec.md §4.8.
func (a *Analyzer) Run(samples []interp.MOS) (DIP, error) {
	if len(a.entries) == 0 {
		return nil, bdaerr.Structural("post: no icfg entry points configured")
	}

	GI2M := make(map[uint64]map[string]struct{})
	GDEP := make(map[uint64]map[uint64]struct{})
	GKILL := make(map[uint64]map[uint64]struct{})
	for _, mos := range samples {
		a.perSampleAnalysis(mos, GI2M, GDEP, GKILL)
	}

	state := make(map[stateIdx]memDefMap)
	for _, e := range a.entries {
		state[stateIdx{cs: 0, node: e}] = newMemDefMap()
	}

	wl := newWorkList(a.entries)
	callStacks := make(map[int][]flowgraph.NodeID)
	dip := make(DIP)

	for !wl.isEmpty() {
		cs, node := wl.popFront()
		cur := stateIdx{cs: cs, node: node}

		if a.isMemWrite(node.Address) {
			handleMemoryWrite(cur, state, GI2M)
		}
		if a.isMemRead(node.Address) {
			handleMemoryRead(cur, state, GI2M, dip)
		}

		var succClass edgeClass
		succCS := cs
		succFrom := node

		switch {
		case a.isCall(node) && a.callIsFollowed(node):
			callStacks[cs] = append(callStacks[cs], node)
			succCS = cs + 1
			succClass = cedge
		case a.isReturn(node):
			if cs == 0 {
				continue
			}
			succCS = cs - 1
			stack := callStacks[succCS]
			if len(stack) == 0 {
				continue
			}
			succFrom = stack[len(stack)-1]
			callStacks[succCS] = stack[:len(stack)-1]
			succClass = iedge
		default:
			succClass = iedge
		}

		var succs []flowgraph.NodeID
		if succClass == cedge {
			succs = a.ceSucc[succFrom]
		} else {
			succs = a.ieSucc[succFrom]
		}
		for _, s := range succs {
			next := stateIdx{cs: succCS, node: s}
			if !m2iContains(state, next, cur) {
				mergeInto(state, next, cur)
				wl.pushBack(succCS, s)
			}
		}
	}
	return dip, nil
}

// perSampleAnalysis implements spec.md §4.8's global precomputation:
// per sample, DEF resets and tracks the last writer of each abstract
// value as the sample's MemOps are replayed in order.
func (a *Analyzer) perSampleAnalysis(mos interp.MOS, GI2M map[uint64]map[string]struct{}, GDEP, GKILL map[uint64]map[uint64]struct{}) {
	DEF := make(map[string]uint64)
	for _, op := range mos {
		ia, av := op.InstrAddr, op.Addr
		if a.isMemWrite(ia) {
			if prev, ok := DEF[av]; ok {
				addUint64(GKILL, ia, prev)
			}
			DEF[av] = ia
		}
		if a.isMemRead(ia) {
			if prev, ok := DEF[av]; ok {
				addUint64(GDEP, ia, prev)
			}
		}
		addString(GI2M, ia, av)
	}
}

func addUint64(m map[uint64]map[uint64]struct{}, k, v uint64) {
	s, ok := m[k]
	if !ok {
		s = make(map[uint64]struct{})
		m[k] = s
	}
	s[v] = struct{}{}
}

func addString(m map[uint64]map[string]struct{}, k uint64, v string) {
	s, ok := m[k]
	if !ok {
		s = make(map[string]struct{})
		m[k] = s
	}
	s[v] = struct{}{}
}

// handleMemoryWrite implements the worklist-walk write rule: every
// abstract address the write instruction touches (per GI2M) becomes
// defined-here, strong-updating any prior definition.
func handleMemoryWrite(idx stateIdx, state map[stateIdx]memDefMap, GI2M map[uint64]map[string]struct{}) {
	m2i, ok := state[idx]
	if !ok {
		m2i = newMemDefMap()
		state[idx] = m2i
	}
	for av := range GI2M[idx.node.Address] {
		if _, exists := m2i[av]; exists {
			m2i.strongUpdate(av, idx.node.Address)
		} else {
			m2i.insert(av, idx.node.Address)
		}
	}
}

// handleMemoryRead implements the worklist-walk read rule: every
// defining writer currently reaching this state for an abstract
// address the read instruction touches becomes a dependency.
func handleMemoryRead(idx stateIdx, state map[stateIdx]memDefMap, GI2M map[uint64]map[string]struct{}, dip DIP) {
	m2i, ok := state[idx]
	if !ok {
		return
	}
	for av := range GI2M[idx.node.Address] {
		for def := range m2i[av] {
			dip.Add(idx.node.Address, def)
		}
	}
}
