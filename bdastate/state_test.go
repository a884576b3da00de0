package bdastate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rot127/bda-go/interp"
	"github.com/rot127/bda-go/sampler"
	"github.com/rot127/bda-go/weight"
)

func TestFoldAccumulatesProductsAndStats(t *testing.T) {
	wmap := weight.NewMap()
	s := New(wmap, []uint64{0x1000}, nil, 4, 8)

	p1 := &interp.IntrpProducts{
		MOS:           interp.MOS{{InstrAddr: 0x1000, Addr: "a"}},
		ConcreteCalls: []interp.ConcreteCodeXref{{From: 0x1004, To: 0x5000, Kind: interp.IndirectCall}},
		IWordInfo:     map[uint64]sampler.IWordInfo{0x1000: sampler.InfoIsCall},
		MaxPathLen:    3,
	}
	p2 := &interp.IntrpProducts{
		MOS:           interp.MOS{{InstrAddr: 0x2000, Addr: "b"}},
		ConcreteJumps: []interp.ConcreteCodeXref{{From: 0x2004, To: 0x6000, Kind: interp.IndirectJump}},
		IWordInfo:     map[uint64]sampler.IWordInfo{0x2000: sampler.InfoIsJump},
		MaxPathLen:    7,
	}

	s.Fold(p1, 10*time.Microsecond, 100*time.Microsecond)
	s.Fold(p2, 20*time.Microsecond, 200*time.Microsecond)

	assert.Len(t, s.Samples, 2)
	assert.Len(t, s.Calls, 1)
	assert.Len(t, s.Jumps, 1)
	assert.Len(t, s.UnhandledXrefs, 2)
	assert.Len(t, s.IWordInfo, 2)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.PathsInterpreted)
	assert.Equal(t, 7, snap.MaxPathLen)
	assert.Equal(t, 15*time.Microsecond, snap.AvgSampleTime())
	assert.Equal(t, 150*time.Microsecond, snap.AvgInterpretTime())
}

func TestShouldUpdateICFGFiresOnThresholdOrTimer(t *testing.T) {
	wmap := weight.NewMap()
	s := New(wmap, nil, nil, 1, 2)

	assert.False(t, s.ShouldUpdateICFG(0, time.Minute))

	s.Fold(&interp.IntrpProducts{ConcreteCalls: []interp.ConcreteCodeXref{{From: 1, To: 2}, {From: 3, To: 4}}}, 0, 0)
	assert.True(t, s.ShouldUpdateICFG(0, time.Minute))
	assert.True(t, s.ShouldUpdateICFG(time.Hour, time.Minute))
}

func TestDrainUnhandledXrefsResetsCountdown(t *testing.T) {
	wmap := weight.NewMap()
	s := New(wmap, nil, nil, 1, 4)
	s.Fold(&interp.IntrpProducts{ConcreteCalls: []interp.ConcreteCodeXref{{From: 1, To: 2}}}, 0, 0)

	drained := s.DrainUnhandledXrefs()
	assert.Len(t, drained, 1)
	assert.Empty(t, s.UnhandledXrefs)
	assert.Equal(t, 4, s.Snapshot().ICFGUpdateCountdown)
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "128", groupThousands(128))
	assert.Equal(t, "1,234", groupThousands(1234))
	assert.Equal(t, "128,417", groupThousands(128417))
	assert.Equal(t, "1,000,000", groupThousands(1000000))
}

func TestStatsAvgZeroBeforeAnyPath(t *testing.T) {
	var st Stats
	assert.Equal(t, time.Duration(0), st.AvgSampleTime())
	assert.Equal(t, time.Duration(0), st.AvgInterpretTime())
	assert.Equal(t, time.Duration(0), st.Elapsed())
}
