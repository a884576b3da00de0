package disasm

import (
	"github.com/rot127/bda-go/cfg"
)

// Fixture is an in-memory reference Disassembler used by tests to
// realize literal binary scenarios without a real backend, mirroring
// the teacher's memory/memory.go in-memory `ram` implementing `Bank`.
type Fixture struct {
	procs      map[uint64]*cfg.CFG
	semantics  map[uint64]InsnSemantics
	malloc     map[uint64]bool
	input      map[uint64]bool
	unmapped   map[uint64]bool
	entryAddrs []uint64
}

// NewFixture returns an empty Fixture ready for AddProcedure/AddInsn calls.
func NewFixture() *Fixture {
	return &Fixture{
		procs:     make(map[uint64]*cfg.CFG),
		semantics: make(map[uint64]InsnSemantics),
		malloc:    make(map[uint64]bool),
		input:     make(map[uint64]bool),
		unmapped:  make(map[uint64]bool),
	}
}

// AddProcedure registers c as the CFG for the procedure at entry.
func (f *Fixture) AddProcedure(entry uint64, c *cfg.CFG) {
	f.procs[entry] = c
}

// AddInsn registers the operational semantics of one instruction.
func (f *Fixture) AddInsn(s InsnSemantics) {
	f.semantics[s.Addr] = s
}

// SetMalloc/SetInput/SetUnmapped flag a procedure address as an
// external collaborator per spec.md §3's is_malloc/is_input/is_unmapped.
func (f *Fixture) SetMalloc(addr uint64)   { f.malloc[addr] = true }
func (f *Fixture) SetInput(addr uint64)    { f.input[addr] = true }
func (f *Fixture) SetUnmapped(addr uint64) { f.unmapped[addr] = true }

// SetBinaryEntries records the fixture's binary-derived entry points.
func (f *Fixture) SetBinaryEntries(addrs []uint64) { f.entryAddrs = addrs }

func (f *Fixture) ProcedureCFG(entry uint64) (*cfg.CFG, error) {
	c, ok := f.procs[entry]
	if !ok {
		return nil, ErrUnknownProcedure{Addr: entry}
	}
	return c, nil
}

func (f *Fixture) InstructionSemantics(addr uint64) (InsnSemantics, error) {
	s, ok := f.semantics[addr]
	if !ok {
		return InsnSemantics{}, ErrUnknownProcedure{Addr: addr}
	}
	return s, nil
}

func (f *Fixture) IsMalloc(addr uint64) bool   { return f.malloc[addr] }
func (f *Fixture) IsInput(addr uint64) bool    { return f.input[addr] }
func (f *Fixture) IsUnmapped(addr uint64) bool { return f.unmapped[addr] }

func (f *Fixture) BinaryEntries() []uint64 { return f.entryAddrs }
