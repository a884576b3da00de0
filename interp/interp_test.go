package interp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rot127/bda-go/bdalog"
	"github.com/rot127/bda-go/disasm"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/sampler"
)

func bindConst(addr uint64, reg string, imm int64) disasm.InsnSemantics {
	return disasm.InsnSemantics{
		Addr: addr,
		Op:   disasm.OpArithmetic,
		Operands: []disasm.Operand{
			{Register: reg},
			{IsImm: true, Immediate: imm},
		},
	}
}

func newTestInterpreter(f *disasm.Fixture) (*Interpreter, *bytes.Buffer) {
	var buf bytes.Buffer
	log := bdalog.New(&buf, bdalog.Debug)
	return New(f, 64, 1, log), &buf
}

func plainNode(addr uint64) sampler.PathNode {
	return sampler.PathNode{ID: flowgraph.New(addr)}
}

func TestRunRoundTripsLoadAfterStore(t *testing.T) {
	f := disasm.NewFixture()
	f.AddInsn(bindConst(0x1000, "rbp", 0x2000))
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x1004,
		Op:   disasm.OpStore,
		Operands: []disasm.Operand{
			{IsMemory: true, MemBase: "rbp", MemOffset: -8},
			{IsImm: true, Immediate: 7},
		},
	})
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x1008,
		Op:   disasm.OpLoad,
		Operands: []disasm.Operand{
			{Register: "rax"},
			{IsMemory: true, MemBase: "rbp", MemOffset: -8},
		},
	})

	in, _ := newTestInterpreter(f)
	path := sampler.Path{plainNode(0x1000), plainNode(0x1004), plainNode(0x1008)}
	products := in.Run(path)

	require.Len(t, products.MOS, 2)
	assert.Equal(t, products.MOS[0].Addr, products.MOS[1].Addr)
	assert.Len(t, products.IWordInfo, 3)
	assert.Equal(t, 3, products.MaxPathLen)
}

func TestRunResolvesIndirectCallToUntaintedTarget(t *testing.T) {
	f := disasm.NewFixture()
	f.AddInsn(bindConst(0x2000, "target", 0x5000))
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x2004,
		Op:   disasm.OpCall,
		Operands: []disasm.Operand{
			{Register: "target"},
		},
	})

	in, _ := newTestInterpreter(f)
	path := sampler.Path{plainNode(0x2000), plainNode(0x2004)}
	products := in.Run(path)

	require.Len(t, products.ConcreteCalls, 1)
	assert.Equal(t, uint64(0x2004), products.ConcreteCalls[0].From)
	assert.Equal(t, uint64(0x5000), products.ConcreteCalls[0].To)
	assert.Equal(t, IndirectCall, products.ConcreteCalls[0].Kind)
}

func TestRunDiscardsIndirectCallThroughTaintedRegister(t *testing.T) {
	f := disasm.NewFixture()
	// rax is bound from an unmapped memory load, so it's tainted.
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x3000,
		Op:   disasm.OpLoad,
		Operands: []disasm.Operand{
			{Register: "rax"},
			{IsMemory: true, MemBase: "rbp", MemOffset: 0},
		},
	})
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x3004,
		Op:   disasm.OpCall,
		Operands: []disasm.Operand{
			{Register: "rax"},
		},
	})

	in, _ := newTestInterpreter(f)
	path := sampler.Path{plainNode(0x3000), plainNode(0x3004)}
	products := in.Run(path)

	assert.Empty(t, products.ConcreteCalls)
}

func TestRunTruncatesAtRepeatBound(t *testing.T) {
	f := disasm.NewFixture()
	f.AddInsn(bindConst(0x4000, "rbp", 0x2000))
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x4004,
		Op:   disasm.OpStore,
		Operands: []disasm.Operand{
			{IsMemory: true, MemBase: "rbp", MemOffset: 0},
			{IsImm: true, Immediate: 1},
		},
	})

	var buf bytes.Buffer
	log := bdalog.New(&buf, bdalog.Debug)
	in := New(f, 3, 1, log)

	path := sampler.Path{plainNode(0x4000)}
	for i := 0; i < 5; i++ {
		path = append(path, plainNode(0x4004))
	}
	products := in.Run(path)

	assert.Len(t, products.MOS, 3)
	assert.Equal(t, len(path), products.MaxPathLen)
	assert.Contains(t, buf.String(), "repeat bound")
}

func TestRunLogsDecodeGapAndContinues(t *testing.T) {
	f := disasm.NewFixture()
	in, buf := newTestInterpreter(f)

	path := sampler.Path{plainNode(0xdead)}
	products := in.Run(path)

	assert.Contains(t, buf.String(), "decode gap")
	assert.Len(t, products.IWordInfo, 1)
}

func TestRunRecordsCallAndReturnPointFlags(t *testing.T) {
	f := disasm.NewFixture()
	f.AddInsn(bindConst(0x5000, "target", 0x6000))
	f.AddInsn(disasm.InsnSemantics{
		Addr:     0x5004,
		Op:       disasm.OpCall,
		Operands: []disasm.Operand{{Register: "target"}},
	})
	f.AddInsn(disasm.InsnSemantics{Addr: 0x5008, Op: disasm.OpNop})

	in, _ := newTestInterpreter(f)
	call := plainNode(0x5004)
	call.Info = sampler.InfoIsCall
	retPoint := plainNode(0x5008)
	retPoint.Info = sampler.InfoIsReturnPoint

	path := sampler.Path{plainNode(0x5000), call, retPoint}
	products := in.Run(path)

	assert.Len(t, products.IWordInfo, 3)
	assert.True(t, products.IWordInfo[0x5004].Has(sampler.InfoIsCall))
	assert.True(t, products.IWordInfo[0x5008].Has(sampler.InfoIsReturnPoint))
}

// TestRunBindsMallocCallReturnToFreshHeapValue mirrors S5: three
// distinct indirect-call sites each resolve to a procedure flagged
// is_malloc, and each one's return register feeds the same downstream
// load instruction. Every call site must produce its own Heap region
// (distinguished by call-site address), so the three resulting MOS
// entries never alias each other despite sharing the load's address.
func TestRunBindsMallocCallReturnToFreshHeapValue(t *testing.T) {
	f := disasm.NewFixture()
	f.AddInsn(disasm.InsnSemantics{
		Addr: 0x08000078,
		Op:   disasm.OpLoad,
		Operands: []disasm.Operand{
			{Register: "ecx"},
			{IsMemory: true, MemBase: "eax", MemOffset: 0},
		},
	})

	sites := []uint64{0x080000ac, 0x080000c9, 0x080000dd}
	seen := make(map[string]bool)
	for _, site := range sites {
		f.AddInsn(disasm.InsnSemantics{
			Addr: site,
			Op:   disasm.OpCall,
			Regs: []disasm.RegBinding{{Name: "eax"}},
		})

		in, _ := newTestInterpreter(f)
		call := plainNode(site)
		call.Info = sampler.InfoIsCall | sampler.InfoCallsMalloc
		load := plainNode(0x08000078)

		products := in.Run(sampler.Path{call, load})

		require.Len(t, products.MOS, 1)
		assert.Equal(t, uint64(0x08000078), products.MOS[0].InstrAddr)
		assert.False(t, seen[products.MOS[0].Addr], "heap value for site %#x collided with a prior site", site)
		seen[products.MOS[0].Addr] = true
	}
	assert.Len(t, seen, len(sites))
}
