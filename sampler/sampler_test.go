package sampler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/icfg"
	"github.com/rot127/bda-go/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeMeta(addr uint64, typ cfg.NodeType) cfg.CFGNodeData {
	return cfg.CFGNodeData{ID: flowgraph.New(addr), Type: typ}
}

// buildSimpleBranch reproduces spec.md §8 scenario S2's gee: a branch
// 0 -> 1 -> {2,3} -> 4 that joins back together, W(entry) = 2.
func buildSimpleBranch(wmap *weight.Map) *cfg.CFG {
	c := cfg.New(wmap)
	n0 := nodeMeta(0, cfg.TypeEntry)
	n1 := nodeMeta(1, cfg.TypeNormal)
	n2 := nodeMeta(2, cfg.TypeNormal)
	n3 := nodeMeta(3, cfg.TypeNormal)
	n4 := nodeMeta(4, cfg.TypeReturn)
	c.AddEdge(n0, n1)
	c.AddEdge(n1, n2)
	c.AddEdge(n1, n3)
	c.AddEdge(n2, n4)
	c.AddEdge(n3, n4)
	c.SetEntry(n0.ID)
	return c
}

// buildSimpleLoop reproduces spec.md §8 scenario S3's self-referential
// loop: 0 -> 1 <-> 2 -> 3.
func buildSimpleLoop(wmap *weight.Map) *cfg.CFG {
	c := cfg.New(wmap)
	n0 := nodeMeta(0, cfg.TypeEntry)
	n1 := nodeMeta(1, cfg.TypeNormal)
	n2 := nodeMeta(2, cfg.TypeNormal)
	n3 := nodeMeta(3, cfg.TypeReturn)
	c.AddEdge(n0, n1)
	c.AddEdge(n1, n2)
	c.AddEdge(n2, n1)
	c.AddEdge(n2, n3)
	c.SetEntry(n0.ID)
	return c
}

func singleProcedureGraph(wmap *weight.Map, c *cfg.CFG) *icfg.ICFG {
	g := icfg.New(wmap)
	g.AddProcedure(c.Entry(), &cfg.Procedure{CFG: c})
	return g
}

func pathKey(p Path) string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = n.ID.String()
	}
	return strings.Join(parts, "->")
}

func TestSimpleBranchDistribution_S2(t *testing.T) {
	wmap := weight.NewMap()
	c := buildSimpleBranch(wmap)
	require.NoError(t, c.MakeAcyclic(flowgraph.MinDuplicateBound))
	g := singleProcedureGraph(wmap, c)

	s := New(wmap, g, 42, nil)
	const n = 20000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		p, err := s.SamplePath(0)
		require.NoError(t, err)
		counts[pathKey(p)]++
	}

	require.Len(t, counts, 2, "expected exactly two distinct branches")
	for key, c := range counts {
		freq := float64(c) / float64(n)
		assert.InDeltaf(t, 0.5, freq, 0.02, "path %s frequency %.4f out of [0.48,0.52]", key, freq)
	}
}

func TestSimpleLoopDistribution_S3(t *testing.T) {
	wmap := weight.NewMap()
	c := buildSimpleLoop(wmap)
	require.NoError(t, c.MakeAcyclic(flowgraph.MinDuplicateBound))
	require.Equal(t, 10, c.Graph.NumNodes())
	require.Equal(t, 15, c.Graph.NumEdges())
	g := singleProcedureGraph(wmap, c)

	s := New(wmap, g, 7, nil)
	const n = 20000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		p, err := s.SamplePath(0)
		require.NoError(t, err)
		counts[pathKey(p)]++
	}

	require.Len(t, counts, 10, "expected exactly ten distinct loop-unrolling paths")
	for key, c := range counts {
		freq := float64(c) / float64(n)
		assert.InDeltaf(t, 0.1, freq, 0.01, "path %s frequency %.4f out of [0.09,0.11]", key, freq)
	}
}

func TestSelectBranchFavorsHeavierWeight(t *testing.T) {
	wmap := weight.NewMap()
	heavy := wmap.Intern(1_000_000)
	light := wmap.Intern(1)
	rng := rand.New(rand.NewSource(1))
	wins := 0
	for i := 0; i < 2000; i++ {
		if selectBranch(wmap, rng, heavy, light) {
			wins++
		}
	}
	assert.Greater(t, wins, 1900, "the overwhelmingly heavier candidate should almost always win")
}

func TestSelectBranchUndeterminedRestAlwaysWins(t *testing.T) {
	wmap := weight.NewMap()
	rng := rand.New(rand.NewSource(2))
	assert.True(t, selectBranch(wmap, rng, wmap.One(), wmap.Undetermined()))
}

func TestInRangesEmptyAdmitsAll(t *testing.T) {
	assert.True(t, InRanges(0xdeadbeef, nil))
	assert.True(t, InRanges(0x10, []Range{{Lo: 0, Hi: 0x20}}))
	assert.False(t, InRanges(0x30, []Range{{Lo: 0, Hi: 0x20}}))
}

func TestIWordInfoHas(t *testing.T) {
	info := InfoIsCall | InfoCallsMalloc
	assert.True(t, info.Has(InfoIsCall))
	assert.False(t, info.Has(InfoIsJump))
}
