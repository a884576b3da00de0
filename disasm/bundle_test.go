package disasm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rot127/bda-go/flowgraph"
)

const s4Bundle = `
binary_entries: ["0x8000040"]
procedures:
  - entry: "0x8000040"
    nodes:
      - {address: "0x8000040", type: entry, kinds: [entry]}
      - {address: "0x8000059", type: normal, kinds: [normal]}
      - {address: "0x8000075", type: normal, kinds: [normal]}
      - {address: "0x8000079", type: normal, kinds: [normal]}
      - {address: "0x8000084", type: exit, kinds: [exit]}
    edges:
      - ["0x8000040", "0x8000059"]
      - ["0x8000059", "0x8000075"]
      - ["0x8000075", "0x8000079"]
      - ["0x8000079", "0x8000084"]
    instructions:
      - {addr: "0x8000040", op: store}
      - {addr: "0x8000059", op: store}
      - {addr: "0x8000075", op: store}
      - {addr: "0x8000079", op: load}
      - {addr: "0x8000084", op: load}
`

func writeBundle(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBundleRealizesFixtureAndICFG(t *testing.T) {
	path := writeBundle(t, s4Bundle)

	f, ic, _, err := LoadBundle(path)
	require.NoError(t, err)

	assert.Equal(t, []uint64{0x8000040}, f.BinaryEntries())
	assert.True(t, ic.HasProcedure(flowgraph.New(0x8000040)))

	c, err := f.ProcedureCFG(0x8000040)
	require.NoError(t, err)
	assert.True(t, c.HasNode(flowgraph.New(0x8000079)))

	sem, err := f.InstructionSemantics(0x8000079)
	require.NoError(t, err)
	assert.Equal(t, OpLoad, sem.Op)
}

func TestLoadBundleRegistersExternalCollaborators(t *testing.T) {
	path := writeBundle(t, `
binary_entries: ["0x1000"]
malloc: ["0x9000"]
input: ["0xa000"]
unmapped: ["0xb000"]
procedures:
  - entry: "0x1000"
    nodes:
      - {address: "0x1000", type: entry, kinds: [entry, exit]}
    edges: []
    instructions:
      - {addr: "0x1000", op: nop}
`)

	f, ic, _, err := LoadBundle(path)
	require.NoError(t, err)

	assert.True(t, f.IsMalloc(0x9000))
	assert.True(t, ic.IsMalloc(flowgraph.New(0x9000)))
	assert.True(t, ic.IsInput(flowgraph.New(0xa000)))
	assert.True(t, ic.IsUnmapped(flowgraph.New(0xb000)))
}

func TestLoadBundleRejectsUnknownEdgeEndpoint(t *testing.T) {
	path := writeBundle(t, `
procedures:
  - entry: "0x1000"
    nodes:
      - {address: "0x1000", type: entry, kinds: [entry]}
    edges:
      - ["0x1000", "0x2000"]
    instructions: []
`)

	_, _, _, err := LoadBundle(path)
	assert.Error(t, err)
}

func TestLoadBundleRejectsMalformedAddress(t *testing.T) {
	path := writeBundle(t, `
binary_entries: ["not-hex"]
`)
	_, _, _, err := LoadBundle(path)
	assert.Error(t, err)
}
