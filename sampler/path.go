package sampler

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rot127/bda-go/bdaerr"
	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/icfg"
	"github.com/rot127/bda-go/weight"
)

// Sampler draws weighted acyclic paths through an ICFG, per spec.md
// §4.5. It holds its own *rand.Rand, so it shares no random source with
// other samplers or with the interpreters; the driver runs a single
// Sampler on its orchestrator goroutine.
type Sampler struct {
	wmap   *weight.Map
	graph  *icfg.ICFG
	rng    *rand.Rand
	ranges []Range
}

// New returns a Sampler seeded with seed, filtering every sampled
// address against ranges (an empty slice admits everything).
func New(wmap *weight.Map, graph *icfg.ICFG, seed int64, ranges []Range) *Sampler {
	return &Sampler{
		wmap:   wmap,
		graph:  graph,
		rng:    rand.New(rand.NewSource(seed)),
		ranges: ranges,
	}
}

// SamplePath draws one Path starting at the procedure whose entry
// address is entryAddr.
func (s *Sampler) SamplePath(entryAddr uint64) (Path, error) {
	var path Path
	_, err := s.sampleProcedure(flowgraph.New(entryAddr), &path, false)
	if err != nil {
		return nil, err
	}
	return path, nil
}

// sampleProcedure walks the CFG of the procedure entered at entry,
// appending every visited node to path, per spec.md §4.5's five
// bullets. It returns exit=true if the walk reached an Exit node,
// which propagates all the way back up through every enclosing call
// to terminate the whole sample.
func (s *Sampler) sampleProcedure(entry flowgraph.NodeID, path *Path, isReturnPoint bool) (exit bool, err error) {
	h := s.graph.Procedure(entry)
	if h == nil {
		return false, bdaerr.Structural(fmt.Sprintf("sampler: no procedure registered at %v", entry))
	}
	p := h.RLock()
	ccfg := p.CFG
	h.RUnlock()
	if ccfg == nil {
		// External collaborator (malloc/input/unmapped): nothing to
		// walk, the call site already recorded the classification.
		return false, nil
	}

	cur := ccfg.Entry()
	for {
		meta, ok := ccfg.Meta[cur]
		if !ok {
			return false, bdaerr.Structural(fmt.Sprintf("sampler: no metadata for node %v", cur))
		}

		info := buildIWordInfo(s.graph, meta)
		if isReturnPoint {
			info |= InfoIsReturnPoint
		}
		*path = append(*path, PathNode{ID: cur, Info: info})

		switch {
		case meta.Type == cfg.TypeCall:
			external := s.graph.IsMalloc(meta.CallTarget) || s.graph.IsInput(meta.CallTarget) || s.graph.IsUnmapped(meta.CallTarget)
			if !external {
				targets := s.callTargets(meta)
				if len(targets) > 0 {
					chosen := pickWeighted(s.wmap, s.rng, targets, s.calleeWeight)
					subExit, err := s.sampleProcedure(chosen, path, false)
					if err != nil {
						return false, err
					}
					if subExit {
						return true, nil
					}
				}
			}
			next, ok, err := s.nextSuccessor(ccfg, cur)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			cur = next
			isReturnPoint = true
			continue

		case nodeIsTailCall(meta):
			targets := s.jumpTargets(meta)
			if len(targets) == 0 {
				return false, nil
			}
			chosen := pickWeighted(s.wmap, s.rng, targets, s.calleeWeight)
			return s.sampleProcedure(chosen, path, false)

		default:
			next, ok, err := s.nextSuccessor(ccfg, cur)
			if err != nil {
				return false, err
			}
			if ok {
				cur = next
				isReturnPoint = false
				continue
			}
			if meta.Type == cfg.TypeExit {
				return true, nil
			}
			return false, nil
		}
	}
}

// nextSuccessor samples the next intra-CFG node after cur by weight,
// per spec.md §4.5 bullet 4. ok is false when cur has no successors
// (the procedure's own control flow ends here).
func (s *Sampler) nextSuccessor(c *cfg.CFG, cur flowgraph.NodeID) (flowgraph.NodeID, bool, error) {
	succs := c.Graph.Successors(cur)
	if len(succs) == 0 {
		return flowgraph.InvalidNodeID, false, nil
	}
	sort.Slice(succs, func(i, j int) bool { return succs[i].Less(succs[j]) })
	weightOf := func(n flowgraph.NodeID) weight.ID {
		meta, ok := c.Meta[n]
		if !ok {
			return s.wmap.Undetermined()
		}
		return meta.Weight
	}
	chosen := pickWeighted(s.wmap, s.rng, succs, weightOf)
	return chosen, true, nil
}

// calleeWeight returns the weight to score a call/tail-call target by:
// one for external collaborators, the callee's own CFG weight
// otherwise, or Undetermined if the target has no registered
// procedure at all.
func (s *Sampler) calleeWeight(target flowgraph.NodeID) weight.ID {
	if s.graph.IsMalloc(target) || s.graph.IsInput(target) || s.graph.IsUnmapped(target) {
		return s.wmap.One()
	}
	h := s.graph.Procedure(target)
	if h == nil {
		return s.wmap.Undetermined()
	}
	p := h.RLock()
	defer h.RUnlock()
	if p.CFG == nil {
		return s.wmap.One()
	}
	return p.CFG.Weight()
}

// callTargets gathers meta's possible call targets (multiple for an
// indirect call folded against several candidates), filtered by the
// sampler's configured address ranges.
func (s *Sampler) callTargets(meta *cfg.CFGNodeData) []flowgraph.NodeID {
	var all []flowgraph.NodeID
	for _, insn := range meta.Insns {
		all = append(all, insn.CallTargets...)
	}
	if len(all) == 0 && meta.CallTarget != flowgraph.InvalidNodeID {
		all = []flowgraph.NodeID{meta.CallTarget}
	}
	return filterRanges(all, s.ranges)
}

// jumpTargets gathers meta's possible tail-call jump targets, filtered
// by the sampler's configured address ranges.
func (s *Sampler) jumpTargets(meta *cfg.CFGNodeData) []flowgraph.NodeID {
	var all []flowgraph.NodeID
	for _, insn := range meta.Insns {
		all = append(all, insn.JumpTargets...)
	}
	return filterRanges(all, s.ranges)
}

func filterRanges(targets []flowgraph.NodeID, ranges []Range) []flowgraph.NodeID {
	if len(ranges) == 0 {
		return targets
	}
	out := targets[:0:0]
	for _, t := range targets {
		if InRanges(t.Address, ranges) {
			out = append(out, t)
		}
	}
	return out
}

// nodeIsTailCall reports whether any instruction on meta is a tail
// call, independent of meta.Type (a tail call is a jump-shaped
// instruction, not its own CFGNodeData.Type, per spec.md §4.5).
func nodeIsTailCall(meta *cfg.CFGNodeData) bool {
	for _, insn := range meta.Insns {
		if insn.IsTailCall() {
			return true
		}
	}
	return false
}

// buildIWordInfo derives the role flags recorded alongside a sampled
// node, per spec.md §3.
func buildIWordInfo(g *icfg.ICFG, meta *cfg.CFGNodeData) IWordInfo {
	var info IWordInfo
	if meta.Type == cfg.TypeCall {
		info |= InfoIsCall
		if g.IsMalloc(meta.CallTarget) {
			info |= InfoCallsMalloc
		}
		if g.IsInput(meta.CallTarget) {
			info |= InfoCallsInput
		}
		if g.IsUnmapped(meta.CallTarget) {
			info |= InfoCallsUnmapped
		}
	}
	if meta.Type == cfg.TypeExit {
		info |= InfoIsExit
	}
	for _, insn := range meta.Insns {
		if insn.IsJump() {
			info |= InfoIsJump
		}
		if insn.IsTailCall() {
			info |= InfoIsTailCall
		}
	}
	return info
}
