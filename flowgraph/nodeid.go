// Package flowgraph implements the directed graph model shared by
// CFG and ICFG: NodeID identity, sampling-bias edge weights, and the
// cycle-elimination transform that duplicates strongly connected
// components so both graphs become DAGs.
package flowgraph

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// NodeID uniquely identifies a node after cycle-elimination. Original
// (pre-duplication) IDs have both clone fields zero. Equality, hashing,
// and ordering are lexicographic on the triple (ICFGClone, CFGClone,
// Address), matching spec.md §3.
type NodeID struct {
	ICFGClone uint32
	CFGClone  uint32
	Address   uint64
}

// InvalidNodeID is the reserved sentinel for "no such node".
var InvalidNodeID = NodeID{ICFGClone: ^uint32(0), CFGClone: ^uint32(0), Address: ^uint64(0)}

// New returns the original (clone 0,0) NodeID for addr.
func New(addr uint64) NodeID {
	return NodeID{Address: addr}
}

// WithCFGClone returns a copy of n with its CFG clone field set to c.
func (n NodeID) WithCFGClone(c uint32) NodeID {
	n.CFGClone = c
	return n
}

// WithICFGClone returns a copy of n with its iCFG clone field set to c.
func (n NodeID) WithICFGClone(c uint32) NodeID {
	n.ICFGClone = c
	return n
}

// fieldLess compares one field of the (ICFGClone, CFGClone, Address)
// ordering triple, generic over the triple's two differently-sized
// field types (uint32, uint64).
func fieldLess[T constraints.Ordered](a, b T) (less, equal bool) {
	return a < b, a == b
}

// Less implements the lexicographic ordering on (ICFGClone, CFGClone,
// Address) required by spec.md §3.
func (n NodeID) Less(o NodeID) bool {
	if less, equal := fieldLess(n.ICFGClone, o.ICFGClone); !equal {
		return less
	}
	if less, equal := fieldLess(n.CFGClone, o.CFGClone); !equal {
		return less
	}
	less, _ := fieldLess(n.Address, o.Address)
	return less
}

// IsOriginal reports whether n has not been duplicated by cycle
// elimination (both clone fields are zero).
func (n NodeID) IsOriginal() bool {
	return n.ICFGClone == 0 && n.CFGClone == 0
}

// String renders the NodeID for logs and test failures.
func (n NodeID) String() string {
	if n.IsOriginal() {
		return fmt.Sprintf("n(%#x)", n.Address)
	}
	return fmt.Sprintf("n(%#x/i%d.c%d)", n.Address, n.ICFGClone, n.CFGClone)
}
