// Package cfg implements the per-procedure control-flow graph: nodes are
// instruction-words carrying type flags, the cycle-elimination transform
// that bounds SCC duplication, and the weight computation of spec.md
// §4.3. Grounded in the teacher's addressing-mode and opcode-kind
// enumerations in cpu/cpu.go, generalized from a single 6502 opcode byte
// to an arbitrary disassembler-supplied instruction-word.
package cfg

import "github.com/rot127/bda-go/flowgraph"

// InsnKind is a bitmask of instruction-word roles, mirroring
// spec.md §3's InsnNodeData kind flags.
type InsnKind uint16

const (
	KindEntry InsnKind = 1 << iota
	KindNormal
	KindCall
	KindReturn
	KindExit
	KindIndirectCall
	KindTailCall
	KindJump
)

// Has reports whether k includes all bits of other.
func (k InsnKind) Has(other InsnKind) bool { return k&other == other }

// InsnNodeData captures one decoded instruction on a CFG node. The list
// of InsnNodeData on a CFGNodeData is typically length 1 on non-VLIW
// targets; more than one represents a single VLIW instruction-word, per
// spec.md §3.
type InsnNodeData struct {
	Address      uint64
	Kind         InsnKind
	CallTargets  []flowgraph.NodeID
	JumpTargets  []flowgraph.NodeID
	FallThrough  flowgraph.NodeID
	HasFallThrough bool
}

// IsCall reports whether this instruction is a (possibly indirect) call.
func (i InsnNodeData) IsCall() bool { return i.Kind.Has(KindCall) }

// IsIndirectCall reports whether this call's target is not statically known.
func (i InsnNodeData) IsIndirectCall() bool { return i.Kind.Has(KindIndirectCall) }

// IsJump reports whether this instruction is a jump.
func (i InsnNodeData) IsJump() bool { return i.Kind.Has(KindJump) }

// IsTailCall reports whether this instruction is a tail call.
func (i InsnNodeData) IsTailCall() bool { return i.Kind.Has(KindTailCall) }

// IsReturn reports whether this instruction is a return.
func (i InsnNodeData) IsReturn() bool { return i.Kind.Has(KindReturn) }

// IsExit reports whether this instruction exits the procedure without
// returning (e.g. a halt or an unconditional jump to unmapped code).
func (i InsnNodeData) IsExit() bool { return i.Kind.Has(KindExit) }
