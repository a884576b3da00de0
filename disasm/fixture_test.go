package disasm

import (
	"testing"

	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureProcedureCFGRoundTrip(t *testing.T) {
	wmap := weight.NewMap()
	c := cfg.New(wmap)
	entry := cfg.CFGNodeData{ID: flowgraph.New(0x1000), Type: cfg.TypeEntry}
	ret := cfg.CFGNodeData{ID: flowgraph.New(0x1004), Type: cfg.TypeReturn}
	c.AddEdge(entry, ret)
	c.SetEntry(entry.ID)

	f := NewFixture()
	f.AddProcedure(0x1000, c)
	f.SetBinaryEntries([]uint64{0x1000})

	got, err := f.ProcedureCFG(0x1000)
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Equal(t, []uint64{0x1000}, f.BinaryEntries())

	_, err = f.ProcedureCFG(0x9999)
	assert.Error(t, err)
}

func TestFixtureClassificationFlags(t *testing.T) {
	f := NewFixture()
	f.SetMalloc(0x2000)
	f.SetInput(0x2004)
	f.SetUnmapped(0x2008)

	assert.True(t, f.IsMalloc(0x2000))
	assert.False(t, f.IsMalloc(0x2004))
	assert.True(t, f.IsInput(0x2004))
	assert.True(t, f.IsUnmapped(0x2008))
}

func TestFixtureInstructionSemantics(t *testing.T) {
	f := NewFixture()
	f.AddInsn(InsnSemantics{
		Addr: 0x3000,
		Op:   OpStore,
		Operands: []Operand{
			{IsMemory: true, MemBase: "rbp", MemOffset: -8},
			{Register: "rax"},
		},
		Regs: []RegBinding{{Name: "rax", Width: 64}},
	})

	s, err := f.InstructionSemantics(0x3000)
	require.NoError(t, err)
	assert.Equal(t, OpStore, s.Op)
	assert.Len(t, s.Operands, 2)

	_, err = f.InstructionSemantics(0x4000)
	assert.Error(t, err)
}
