package abstrmem

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueEqualityStructural(t *testing.T) {
	a := Value{Region: Stack(0x1000, 1), Offset: big.NewInt(8), Source: "rbp"}
	b := Value{Region: Stack(0x1000, 1), Offset: big.NewInt(8), Source: "rbp"}
	c := Value{Region: Stack(0x1000, 2), Offset: big.NewInt(8), Source: "rbp"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestGlobalDoublesAsConstant(t *testing.T) {
	v := GlobalUint64(42)
	assert.True(t, v.IsGlobal())
	assert.Equal(t, int64(42), v.Offset.Int64())
}

func TestKeyDistinguishesRegions(t *testing.T) {
	g := GlobalUint64(0)
	s := Value{Region: Stack(0, 0), Offset: big.NewInt(0)}
	h := Value{Region: Heap(0, 0), Offset: big.NewInt(0)}
	assert.NotEqual(t, g.Key(), s.Key())
	assert.NotEqual(t, s.Key(), h.Key())
}

func TestVMStateLoadMiss(t *testing.T) {
	s := NewVMState(0x1000)
	_, ok := s.Load(GlobalUint64(0x8000))
	assert.False(t, ok, "unwritten address must report a miss")
}

func TestVMStateStoreThenLoad(t *testing.T) {
	s := NewVMState(0x1000)
	addr := GlobalUint64(0x8000)
	val := GlobalUint64(7)
	s.Store(addr, val)
	got, ok := s.Load(addr)
	assert.True(t, ok)
	assert.True(t, got.Equal(val))
}

func TestFrameStack(t *testing.T) {
	s := NewVMState(0x1000)
	_, ok := s.PopFrame()
	assert.False(t, ok)

	s.PushFrame(Frame{InvocationSite: 0x100, Instance: 1, ReturnAddr: 0x104})
	cur, ok := s.CurrentFrame()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x100), cur.InvocationSite)

	popped, ok := s.PopFrame()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x104), popped.ReturnAddr)
	_, ok = s.CurrentFrame()
	assert.False(t, ok)
}

func TestNormalizeEscapingRewritesStackRegion(t *testing.T) {
	v := Value{Region: Stack(0x200, 1), Offset: big.NewInt(-8)}
	caller := Frame{InvocationSite: 0x100, Instance: 3}
	got := NormalizeEscaping(v, caller)
	assert.Equal(t, RegionStack, got.Region.Kind)
	assert.Equal(t, uint64(0x100), got.Region.Frame)
	assert.Equal(t, uint64(3), got.Region.Invocation)
	assert.Equal(t, int64(-8), got.Offset.Int64())
}

func TestNormalizeEscapingLeavesNonStackUnchanged(t *testing.T) {
	v := GlobalUint64(5)
	got := NormalizeEscaping(v, Frame{InvocationSite: 0x100, Instance: 1})
	assert.True(t, got.Equal(v))
}
