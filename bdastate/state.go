// Package bdastate holds the process-wide shared state of a BDA run:
// the interned weight map, entry/range configuration, accumulated
// interpretation products, the backlog of unhandled concrete code
// cross-references awaiting an iCFG fold, and runtime statistics.
// Grounded in the teacher's memory.Bank pattern of a single
// mutex-guarded struct behind narrow accessor methods, generalized
// from one in-memory byte array to the driver's whole-run bookkeeping.
package bdastate

import (
	"sync"
	"time"

	"github.com/rot127/bda-go/interp"
	"github.com/rot127/bda-go/sampler"
	"github.com/rot127/bda-go/weight"
)

// BDAState is the shared state owned by the orchestrator and mutated
// under mu. The orchestrator folds each worker's products into it via
// Fold; workers never touch it directly (spec.md §3/§5).
type BDAState struct {
	mu sync.Mutex

	WeightMap *weight.Map
	Entries   []uint64
	Ranges    []sampler.Range

	// UnhandledXrefs holds newly discovered ConcreteCodeXrefs not yet
	// folded into the iCFG by update_icfg.
	UnhandledXrefs []interp.ConcreteCodeXref

	// Samples holds one MOS per interpreted path, boundary preserved:
	// the posterior analyzer's global precomputation resets its DEF map
	// at each sample boundary (spec.md §4.8), so a flattened MOS would
	// silently merge distinct executions.
	Samples    []interp.MOS
	Calls      []interp.ConcreteCodeXref
	Jumps      []interp.ConcreteCodeXref
	MemXrefs   []interp.MemXref
	StackXrefs []interp.StackXref
	IWordInfo  map[uint64]sampler.IWordInfo

	Stats Stats

	ICFGUpdateThreshold int
}

// New returns a BDAState ready to accumulate products from entry/range
// configuration, sized for numThreads workers and folding the iCFG
// once ICFGUpdateThreshold unhandled xrefs have accumulated.
func New(wmap *weight.Map, entries []uint64, ranges []sampler.Range, numThreads, icfgUpdateThreshold int) *BDAState {
	return &BDAState{
		WeightMap:           wmap,
		Entries:             entries,
		Ranges:              ranges,
		IWordInfo:           make(map[uint64]sampler.IWordInfo),
		ICFGUpdateThreshold: icfgUpdateThreshold,
		Stats: Stats{
			NumThreads:          numThreads,
			StartedAt:           time.Now(),
			ICFGUpdateCountdown: icfgUpdateThreshold,
		},
	}
}

// Fold merges one worker's IntrpProducts into the accumulated state
// and updates the running statistics, implementing the driver's
// update_iword_info/update_calls/update_jumps/update_mem_xrefs/
// update_stack_xrefs/update_mos step (spec.md §4.7).
func (s *BDAState) Fold(p *interp.IntrpProducts, sampleTime, interpretTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateIWordInfo(p)
	s.updateCalls(p)
	s.updateJumps(p)
	s.updateMemXrefs(p)
	s.updateStackXrefs(p)
	s.updateMOS(p)

	s.Stats.PathsInterpreted++
	s.Stats.TotalSampleTime += sampleTime
	s.Stats.TotalInterpretTime += interpretTime
	if p.MaxPathLen > s.Stats.MaxPathLen {
		s.Stats.MaxPathLen = p.MaxPathLen
	}
	s.Stats.ICFGUpdateCountdown = s.ICFGUpdateThreshold - len(s.UnhandledXrefs)
}

func (s *BDAState) updateIWordInfo(p *interp.IntrpProducts) {
	for addr, info := range p.IWordInfo {
		s.IWordInfo[addr] = info
	}
}

func (s *BDAState) updateCalls(p *interp.IntrpProducts) {
	s.Calls = append(s.Calls, p.ConcreteCalls...)
	s.UnhandledXrefs = append(s.UnhandledXrefs, p.ConcreteCalls...)
}

func (s *BDAState) updateJumps(p *interp.IntrpProducts) {
	s.Jumps = append(s.Jumps, p.ConcreteJumps...)
	s.UnhandledXrefs = append(s.UnhandledXrefs, p.ConcreteJumps...)
}

func (s *BDAState) updateMemXrefs(p *interp.IntrpProducts) {
	s.MemXrefs = append(s.MemXrefs, p.MemXrefs...)
}

func (s *BDAState) updateStackXrefs(p *interp.IntrpProducts) {
	s.StackXrefs = append(s.StackXrefs, p.StackXrefs...)
}

func (s *BDAState) updateMOS(p *interp.IntrpProducts) {
	if len(p.MOS) > 0 {
		s.Samples = append(s.Samples, p.MOS)
	}
}

// ShouldUpdateICFG reports whether update_icfg_check fires: either the
// unhandled-xref backlog has crossed ICFGUpdateThreshold, or
// sinceLastFold has reached timerThreshold.
func (s *BDAState) ShouldUpdateICFG(sinceLastFold, timerThreshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sinceLastFold >= timerThreshold || len(s.UnhandledXrefs) >= s.ICFGUpdateThreshold
}

// DrainUnhandledXrefs removes and returns all unhandled
// ConcreteCodeXrefs, for update_icfg to process.
func (s *BDAState) DrainUnhandledXrefs() []interp.ConcreteCodeXref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.UnhandledXrefs
	s.UnhandledXrefs = nil
	s.Stats.ICFGUpdateCountdown = s.ICFGUpdateThreshold
	return out
}

// Snapshot returns a copy of the current Stats, safe to read
// concurrently with ongoing Fold calls (e.g. for a status-line
// spinner on another goroutine).
func (s *BDAState) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stats
}
