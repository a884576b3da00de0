// Package sampler implements weighted acyclic path sampling over an
// ICFG, per spec.md §4.5: PathSampler draws one path with probability
// proportional to its weight, using an approximate-weight pairwise
// elimination algorithm for the actual branch coin-flips so that
// arbitrary-precision weights never need an exact big-random draw.
package sampler

import "github.com/rot127/bda-go/flowgraph"

// IWordInfo is the per-instruction role-flag bitmask recorded on a
// sampled path, per spec.md §3.
type IWordInfo uint16

const (
	InfoIsCall IWordInfo = 1 << iota
	InfoIsJump
	InfoIsTailCall
	InfoIsExit
	InfoIsReturnPoint
	InfoCallsMalloc
	InfoCallsInput
	InfoCallsUnmapped
)

// Has reports whether i includes all bits of other.
func (i IWordInfo) Has(other IWordInfo) bool { return i&other == other }

// PathNode is one step of a sampled Path: a node identity plus its
// role flags.
type PathNode struct {
	ID   flowgraph.NodeID
	Info IWordInfo
}

// Path is the ordered sequence of nodes a single sample walked,
// spanning procedure boundaries for calls and tail calls.
type Path []PathNode

// Range is an inclusive [Lo, Hi] address range used to filter which
// nodes the sampler may step onto, per spec.md §4.5. An empty Range
// slice admits every address.
type Range struct {
	Lo, Hi uint64
}

// InRanges reports whether addr falls within any of ranges, or
// unconditionally true if ranges is empty.
func InRanges(addr uint64, ranges []Range) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if addr >= r.Lo && addr <= r.Hi {
			return true
		}
	}
	return false
}
