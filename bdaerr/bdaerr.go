// Package bdaerr defines the small set of custom error types used
// across the analysis, following the error-handling taxonomy of
// spec.md §7 and the teacher's pattern of plain structs implementing
// error (cpu.InvalidCPUState, cpu.HaltOpcode in cpu/cpu.go) rather than
// a generic errors/wrapping framework.
package bdaerr

import "fmt"

// StructuralError reports a structural inconsistency in the graph model
// (missing entry, missing node metadata, zero-weight CFG after
// resolution). Per spec.md §7 this class is fatal: callers should abort
// the analysis.
type StructuralError struct {
	Reason string
}

func (e StructuralError) Error() string {
	return fmt.Sprintf("structural inconsistency: %s", e.Reason)
}

// Structural constructs a StructuralError.
func Structural(reason string) error {
	return StructuralError{Reason: reason}
}

// ConcurrencyPoisoned reports that a worker goroutine panicked while
// holding a lock on shared analysis state. Fatal per spec.md §7.
type ConcurrencyPoisoned struct {
	Detail string
}

func (e ConcurrencyPoisoned) Error() string {
	return fmt.Sprintf("concurrency poisoning: %s", e.Detail)
}

// NoMallocFound reports that the binary has no procedure flagged
// is_malloc. Non-fatal: the caller decides (interactively, unless
// skip_questions is set) whether to continue without heap modeling.
type NoMallocFound struct{}

func (e NoMallocFound) Error() string {
	return "no memory-allocating function identified in the binary"
}

// BudgetExpired reports normal termination due to runtime-budget
// expiry. Non-fatal per spec.md §7: a partial DIP is still valid.
type BudgetExpired struct{}

func (e BudgetExpired) Error() string {
	return "analysis runtime budget expired"
}

// DisassemblerUnavailable reports that the external disassembler
// returned a nil/absent CFG for a procedure it previously promised to
// know about. Fatal, consistent with the disassembler's contract
// (spec.md §7).
type DisassemblerUnavailable struct {
	Addr uint64
}

func (e DisassemblerUnavailable) Error() string {
	return fmt.Sprintf("disassembler returned no CFG for procedure %#x", e.Addr)
}
