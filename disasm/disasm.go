// Package disasm defines the external-disassembler collaborator
// interface (spec.md §6): graph extraction, per-instruction semantics,
// and the is_malloc/is_input/is_unmapped classification queries BDA
// treats as out of scope for itself. Grounded in the teacher's
// memory.Bank pattern (memory/memory.go) of specifying shared state
// behind a narrow interface with one in-memory reference
// implementation (fixture.go) used by tests instead of a real backend.
package disasm

import (
	"fmt"

	"github.com/rot127/bda-go/cfg"
)

// OperandKind classifies one elementary operation's shape, per spec.md
// §6's instruction-semantics requirement.
type OperandKind int

const (
	OpArithmetic OperandKind = iota
	OpLogical
	OpCast
	OpLoad
	OpStore
	OpBranch
	OpJump
	OpCall
	OpReturn
	OpNop
)

// Operand is one operand binding: a register name, a memory
// expression, or an immediate constant.
type Operand struct {
	Register  string
	Immediate int64
	IsMemory  bool
	MemBase   string
	MemOffset int64
	IsImm     bool
}

// RegBinding maps a global variable name (the abstract interpreter's
// register namespace) to its bit-width.
type RegBinding struct {
	Name  string
	Width uint
}

// InsnSemantics is the operational description the abstract
// interpreter needs to advance past one instruction (spec.md §6).
//
// Regs declares the ABI-level registers this instruction's semantics
// touch beyond its explicit Operands; for an OpCall targeting a
// procedure flagged is_malloc, Regs[0] is the return-value register
// the host disassembler's calling convention binds the allocated
// pointer to.
type InsnSemantics struct {
	Addr     uint64
	Op       OperandKind
	Operands []Operand
	Regs     []RegBinding
}

// Disassembler is the host collaborator BDA consumes but never
// implements: the external disassembler that already decoded the
// binary (spec.md §1's "deliberately out of scope" and §6).
type Disassembler interface {
	// ProcedureCFG returns the control-flow graph of the procedure
	// whose entry is at addr.
	ProcedureCFG(entry uint64) (*cfg.CFG, error)
	// InstructionSemantics returns the operational description of the
	// instruction at addr, used by the interpreter to advance the VM
	// state for one step of a sampled path.
	InstructionSemantics(addr uint64) (InsnSemantics, error)
	// IsMalloc reports whether addr is a known heap-allocating routine.
	IsMalloc(addr uint64) bool
	// IsInput reports whether addr is a known external-input source.
	IsInput(addr uint64) bool
	// IsUnmapped reports whether addr has no resolvable body.
	IsUnmapped(addr uint64) bool
	// BinaryEntries returns the binary's own entry-point addresses,
	// used when the user supplies no explicit entries.
	BinaryEntries() []uint64
}

// ErrUnknownProcedure is returned by ProcedureCFG for an address with
// no known procedure, distinct from bdaerr.DisassemblerUnavailable
// (which covers a procedure the disassembler previously promised but
// now fails to produce).
type ErrUnknownProcedure struct{ Addr uint64 }

func (e ErrUnknownProcedure) Error() string {
	return fmt.Sprintf("disasm: no procedure known at %#x", e.Addr)
}
