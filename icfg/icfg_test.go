package icfg

import (
	"testing"

	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nmeta(addr uint64, typ cfg.NodeType) cfg.CFGNodeData {
	return cfg.CFGNodeData{ID: flowgraph.New(addr), Type: typ}
}

func callMeta(addr uint64, target flowgraph.NodeID) cfg.CFGNodeData {
	return cfg.CFGNodeData{ID: flowgraph.New(addr), Type: cfg.TypeCall, CallTarget: target}
}

// buildGee reproduces the "gee" procedure of spec.md §8 scenario S1: a
// two-way branch joining back together, entry at address 0.
func buildGee(wmap *weight.Map) *cfg.Procedure {
	c := cfg.New(wmap)
	n0 := nmeta(0, cfg.TypeEntry)
	n1 := nmeta(1, cfg.TypeNormal)
	n2 := nmeta(2, cfg.TypeNormal)
	n3 := nmeta(3, cfg.TypeReturn)
	c.AddEdge(n0, n1)
	c.AddEdge(n0, n2)
	c.AddEdge(n1, n3)
	c.AddEdge(n2, n3)
	c.SetEntry(n0.ID)
	return &cfg.Procedure{CFG: c}
}

// buildFoo reproduces "foo", entry at address 6: two independent calls
// to gee whose results join implicitly by summation at the entry node,
// giving W(foo) = W(call1) + W(call2) = 2 + 2 = 4.
func buildFoo(wmap *weight.Map, geeEntry flowgraph.NodeID) *cfg.Procedure {
	c := cfg.New(wmap)
	f0 := nmeta(6, cfg.TypeEntry)
	f1 := callMeta(7, geeEntry)
	f2 := callMeta(8, geeEntry)
	r1 := nmeta(9, cfg.TypeReturn)
	r2 := nmeta(10, cfg.TypeReturn)
	c.AddEdge(f0, f1)
	c.AddEdge(f0, f2)
	c.AddEdge(f1, r1)
	c.AddEdge(f2, r2)
	c.SetEntry(f0.ID)
	return &cfg.Procedure{CFG: c}
}

// buildMain reproduces "main", entry at address 11: one call to foo
// (weight 4) plus an independent two-way branch (weight 2), giving
// W(main) = 4 + 2 = 6.
func buildMain(wmap *weight.Map, fooEntry flowgraph.NodeID) *cfg.Procedure {
	c := cfg.New(wmap)
	m0 := nmeta(11, cfg.TypeEntry)
	mc := callMeta(12, fooEntry)
	mcRet := nmeta(13, cfg.TypeReturn)
	mb := nmeta(14, cfg.TypeNormal)
	mb1 := nmeta(15, cfg.TypeReturn)
	mb2 := nmeta(16, cfg.TypeReturn)
	c.AddEdge(m0, mc)
	c.AddEdge(mc, mcRet)
	c.AddEdge(m0, mb)
	c.AddEdge(mb, mb1)
	c.AddEdge(mb, mb2)
	c.SetEntry(m0.ID)
	return &cfg.Procedure{CFG: c}
}

func TestThreeProcedureCallChainWeights_S1(t *testing.T) {
	wmap := weight.NewMap()
	gee := buildGee(wmap)
	geeEntry := gee.CFG.Entry()
	foo := buildFoo(wmap, geeEntry)
	fooEntry := foo.CFG.Entry()
	main := buildMain(wmap, fooEntry)
	mainEntry := main.CFG.Entry()

	g := New(wmap)
	g.AddProcedure(geeEntry, gee)
	g.AddProcedure(fooEntry, foo)
	g.AddProcedure(mainEntry, main)
	g.AddEdge(fooEntry, foo, geeEntry, gee)
	g.AddEdge(fooEntry, foo, geeEntry, gee) // idempotent: foo calls gee from two sites, one iCFG edge
	g.AddEdge(mainEntry, main, fooEntry, foo)

	require.NoError(t, g.ResolveLoops(4, flowgraph.MinDuplicateBound))

	assert.Equal(t, "2", wmap.String(gee.CFG.Weight()))
	assert.Equal(t, "4", wmap.String(foo.CFG.Weight()))
	assert.Equal(t, "6", wmap.String(main.CFG.Weight()))
}

// buildS6Main and buildRecurse reproduce spec.md §8 scenario S6's mutual
// recursion: main (lower address) calls recurse, and recurse calls
// back into main, forming a 2-node iCFG SCC. By the address(u) >=
// address(v) back-edge heuristic, main -> recurse is a forward edge
// (main's address is lower) and recurse -> main is the back-edge.
const s6MainAddr = 0x08000040
const s6RecurseAddr = 0x08000080

func buildS6Main(wmap *weight.Map, recurseEntry flowgraph.NodeID) *cfg.Procedure {
	c := cfg.New(wmap)
	entry := nmeta(s6MainAddr, cfg.TypeEntry)
	call := callMeta(s6MainAddr+4, recurseEntry)
	ret := nmeta(s6MainAddr+8, cfg.TypeReturn)
	c.AddEdge(entry, call)
	c.AddEdge(call, ret)
	c.SetEntry(entry.ID)
	return &cfg.Procedure{CFG: c}
}

func buildRecurse(wmap *weight.Map, mainEntry flowgraph.NodeID) *cfg.Procedure {
	c := cfg.New(wmap)
	entry := nmeta(s6RecurseAddr, cfg.TypeEntry)
	call := callMeta(s6RecurseAddr+4, mainEntry)
	ret := nmeta(s6RecurseAddr+8, cfg.TypeReturn)
	c.AddEdge(entry, call)
	c.AddEdge(call, ret)
	c.SetEntry(entry.ID)
	return &cfg.Procedure{CFG: c}
}

func TestRecursiveProcedureCloning_S6(t *testing.T) {
	wmap := weight.NewMap()
	mainEntry := flowgraph.New(s6MainAddr)
	recurseEntry := flowgraph.New(s6RecurseAddr)
	main := buildS6Main(wmap, recurseEntry)
	recurse := buildRecurse(wmap, mainEntry)

	g := New(wmap)
	g.AddProcedure(mainEntry, main)
	g.AddProcedure(recurseEntry, recurse)
	g.AddEdge(mainEntry, main, recurseEntry, recurse)
	g.AddEdge(recurseEntry, recurse, mainEntry, main)

	require.NoError(t, g.ResolveLoops(2, flowgraph.MinDuplicateBound))

	// {main, recurse} form a single 2-node iCFG SCC, duplicated
	// node_duplicates+1 = 4 times each: main_0..3 and recurse_0..3, 8
	// procedure nodes total. main -> recurse is a forward edge (4
	// clone-for-clone edges); recurse -> main is the back-edge (3
	// edges, c -> c+1, cut at the last clone): 7 edges total.
	assert.Equal(t, 8, g.Graph.NumNodes())
	assert.Equal(t, 7, g.Graph.NumEdges())
	assert.Equal(t, 8, g.NumProcedures())

	for c := uint32(0); c <= flowgraph.MinDuplicateBound; c++ {
		mc := mainEntry.WithICFGClone(c)
		rc := recurseEntry.WithICFGClone(c)
		assert.True(t, g.HasEdge(mc, rc), "expected main_%d -> recurse_%d", c, c)
	}
	for c := uint32(0); c < flowgraph.MinDuplicateBound; c++ {
		rc := recurseEntry.WithICFGClone(c)
		mNext := mainEntry.WithICFGClone(c + 1)
		assert.True(t, g.HasEdge(rc, mNext), "expected recurse_%d -> main_%d", c, c+1)
	}
	lastRecurse := recurseEntry.WithICFGClone(flowgraph.MinDuplicateBound)
	assert.Empty(t, g.Graph.Successors(lastRecurse), "recurse_3 must have no outgoing call edges")
}
