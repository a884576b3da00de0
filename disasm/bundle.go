package disasm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rot127/bda-go/cfg"
	"github.com/rot127/bda-go/flowgraph"
	"github.com/rot127/bda-go/icfg"
	"github.com/rot127/bda-go/weight"
)

// Bundle is the YAML-serializable shape of a Fixture, letting cmd/bda
// load the external-disassembler collaborator's output from a file
// instead of a real disassembler backend (which, per spec.md §1, is
// out of scope for this module). Grounded in config's own YAML layer
// (gopkg.in/yaml.v3, seen in ja7ad-consumption) rather than inventing
// a second serialization format.
type Bundle struct {
	BinaryEntries []string          `yaml:"binary_entries"`
	Malloc        []string          `yaml:"malloc"`
	Input         []string          `yaml:"input"`
	Unmapped      []string          `yaml:"unmapped"`
	Procedures    []BundleProcedure `yaml:"procedures"`
}

// BundleProcedure is one procedure's CFG plus the operational
// semantics of every instruction it contains.
type BundleProcedure struct {
	Entry        string            `yaml:"entry"`
	Nodes        []BundleNode      `yaml:"nodes"`
	Edges        [][2]string       `yaml:"edges"`
	Instructions []BundleInsn      `yaml:"instructions"`
}

// BundleNode is one CFGNodeData: an instruction-word address, its
// weight-computation type, and its InsnKind flags.
type BundleNode struct {
	Address    string   `yaml:"address"`
	Type       string   `yaml:"type"`
	Kinds      []string `yaml:"kinds"`
	CallTarget string   `yaml:"call_target,omitempty"`
}

// BundleInsn is one InsnSemantics entry, keyed by address.
type BundleInsn struct {
	Addr     string          `yaml:"addr"`
	Op       string          `yaml:"op"`
	Operands []BundleOperand `yaml:"operands,omitempty"`
	Regs     []string        `yaml:"regs,omitempty"`
}

// BundleOperand mirrors Operand in the string/primitive shapes YAML
// can bind directly.
type BundleOperand struct {
	Register  string `yaml:"register,omitempty"`
	Immediate int64  `yaml:"immediate,omitempty"`
	IsMemory  bool   `yaml:"is_memory,omitempty"`
	MemBase   string `yaml:"mem_base,omitempty"`
	MemOffset int64  `yaml:"mem_offset,omitempty"`
	IsImm     bool   `yaml:"is_imm,omitempty"`
}

// LoadBundle reads a YAML bundle file and realizes it as a Fixture
// plus a populated ICFG sharing one weight.Map, so cmd/bda can drive a
// real Driver run without a live disassembler backend.
func LoadBundle(path string) (*Fixture, *icfg.ICFG, *weight.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("disasm: reading bundle %s: %w", path, err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, nil, nil, fmt.Errorf("disasm: parsing bundle %s: %w", path, err)
	}

	wmap := weight.NewMap()
	f := NewFixture()
	ic := icfg.New(wmap)

	entries, err := parseAddrs(b.BinaryEntries)
	if err != nil {
		return nil, nil, nil, err
	}
	f.SetBinaryEntries(entries)

	for _, a := range b.Malloc {
		addr, err := parseAddr(a)
		if err != nil {
			return nil, nil, nil, err
		}
		f.SetMalloc(addr)
		ic.AddProcedure(flowgraph.New(addr), &cfg.Procedure{IsMalloc: true})
	}
	for _, a := range b.Input {
		addr, err := parseAddr(a)
		if err != nil {
			return nil, nil, nil, err
		}
		f.SetInput(addr)
		ic.AddProcedure(flowgraph.New(addr), &cfg.Procedure{IsInput: true})
	}
	for _, a := range b.Unmapped {
		addr, err := parseAddr(a)
		if err != nil {
			return nil, nil, nil, err
		}
		f.SetUnmapped(addr)
		ic.AddProcedure(flowgraph.New(addr), &cfg.Procedure{IsUnmapped: true})
	}

	for _, bp := range b.Procedures {
		c, entry, err := bp.build(wmap)
		if err != nil {
			return nil, nil, nil, err
		}
		f.AddProcedure(entry, c)
		ic.AddProcedure(flowgraph.New(entry), &cfg.Procedure{CFG: c})
	}
	for _, bp := range b.Procedures {
		for _, bi := range bp.Instructions {
			sem, err := bi.build()
			if err != nil {
				return nil, nil, nil, err
			}
			f.AddInsn(sem)
		}
	}

	return f, ic, wmap, nil
}

func (bp BundleProcedure) build(wmap *weight.Map) (*cfg.CFG, uint64, error) {
	entry, err := parseAddr(bp.Entry)
	if err != nil {
		return nil, 0, err
	}
	c := cfg.New(wmap)
	nodes := make(map[uint64]cfg.CFGNodeData, len(bp.Nodes))
	for _, bn := range bp.Nodes {
		data, err := bn.build()
		if err != nil {
			return nil, 0, err
		}
		nodes[data.ID.Address] = data
		c.AddNode(data)
	}
	for _, e := range bp.Edges {
		fromAddr, err := parseAddr(e[0])
		if err != nil {
			return nil, 0, err
		}
		toAddr, err := parseAddr(e[1])
		if err != nil {
			return nil, 0, err
		}
		from, ok := nodes[fromAddr]
		if !ok {
			return nil, 0, fmt.Errorf("disasm: bundle edge references undeclared node %#x", fromAddr)
		}
		to, ok := nodes[toAddr]
		if !ok {
			return nil, 0, fmt.Errorf("disasm: bundle edge references undeclared node %#x", toAddr)
		}
		c.AddEdge(from, to)
	}
	c.SetEntry(flowgraph.New(entry))
	return c, entry, nil
}

func (bn BundleNode) build() (cfg.CFGNodeData, error) {
	addr, err := parseAddr(bn.Address)
	if err != nil {
		return cfg.CFGNodeData{}, err
	}
	typ, err := parseNodeType(bn.Type)
	if err != nil {
		return cfg.CFGNodeData{}, err
	}
	var kind cfg.InsnKind
	for _, k := range bn.Kinds {
		bit, err := parseInsnKind(k)
		if err != nil {
			return cfg.CFGNodeData{}, err
		}
		kind |= bit
	}
	data := cfg.CFGNodeData{
		ID:    flowgraph.New(addr),
		Type:  typ,
		Insns: []cfg.InsnNodeData{{Address: addr, Kind: kind}},
	}
	if bn.CallTarget != "" {
		target, err := parseAddr(bn.CallTarget)
		if err != nil {
			return cfg.CFGNodeData{}, err
		}
		data.CallTarget = flowgraph.New(target)
		data.Insns[0].CallTargets = []flowgraph.NodeID{flowgraph.New(target)}
	}
	return data, nil
}

func (bi BundleInsn) build() (InsnSemantics, error) {
	addr, err := parseAddr(bi.Addr)
	if err != nil {
		return InsnSemantics{}, err
	}
	op, err := parseOperandKind(bi.Op)
	if err != nil {
		return InsnSemantics{}, err
	}
	operands := make([]Operand, len(bi.Operands))
	for i, bo := range bi.Operands {
		operands[i] = Operand{
			Register:  bo.Register,
			Immediate: bo.Immediate,
			IsMemory:  bo.IsMemory,
			MemBase:   bo.MemBase,
			MemOffset: bo.MemOffset,
			IsImm:     bo.IsImm,
		}
	}
	regs := make([]RegBinding, len(bi.Regs))
	for i, name := range bi.Regs {
		regs[i] = RegBinding{Name: name}
	}
	return InsnSemantics{Addr: addr, Op: op, Operands: operands, Regs: regs}, nil
}

func parseAddrs(ss []string) ([]uint64, error) {
	out := make([]uint64, 0, len(ss))
	for _, s := range ss {
		addr, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("disasm: invalid bundle address %q: %w", s, err)
	}
	return addr, nil
}

func parseNodeType(s string) (cfg.NodeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entry":
		return cfg.TypeEntry, nil
	case "normal":
		return cfg.TypeNormal, nil
	case "call":
		return cfg.TypeCall, nil
	case "return":
		return cfg.TypeReturn, nil
	case "exit":
		return cfg.TypeExit, nil
	default:
		return 0, fmt.Errorf("disasm: unknown bundle node type %q", s)
	}
}

func parseInsnKind(s string) (cfg.InsnKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entry":
		return cfg.KindEntry, nil
	case "normal":
		return cfg.KindNormal, nil
	case "call":
		return cfg.KindCall, nil
	case "return":
		return cfg.KindReturn, nil
	case "exit":
		return cfg.KindExit, nil
	case "indirect_call":
		return cfg.KindIndirectCall, nil
	case "tail_call":
		return cfg.KindTailCall, nil
	case "jump":
		return cfg.KindJump, nil
	default:
		return 0, fmt.Errorf("disasm: unknown bundle instruction kind %q", s)
	}
}

func parseOperandKind(s string) (OperandKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arithmetic":
		return OpArithmetic, nil
	case "logical":
		return OpLogical, nil
	case "cast":
		return OpCast, nil
	case "load":
		return OpLoad, nil
	case "store":
		return OpStore, nil
	case "branch":
		return OpBranch, nil
	case "jump":
		return OpJump, nil
	case "call":
		return OpCall, nil
	case "return":
		return OpReturn, nil
	case "nop":
		return OpNop, nil
	default:
		return 0, fmt.Errorf("disasm: unknown bundle operation %q", s)
	}
}
