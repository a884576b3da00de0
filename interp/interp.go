package interp

import (
	"math/big"
	"math/rand"

	"github.com/rot127/bda-go/abstrmem"
	"github.com/rot127/bda-go/bdalog"
	"github.com/rot127/bda-go/disasm"
	"github.com/rot127/bda-go/sampler"
)

// Interpreter replays a sampled Path against the host disassembler's
// per-instruction semantics over an abstrmem.VMState, per spec.md
// §4.6. One Interpreter is owned by exactly one worker for the
// duration of a single Run call (SPEC_FULL.md §7's "each Path is
// owned by exactly one worker").
type Interpreter struct {
	Disasm           disasm.Disassembler
	RepeatIterations uint32
	Log              *bdalog.Logger

	rng *rand.Rand
}

// New returns an Interpreter.
func New(d disasm.Disassembler, repeatIterations uint32, seed int64, log *bdalog.Logger) *Interpreter {
	return &Interpreter{
		Disasm:           d,
		RepeatIterations: repeatIterations,
		Log:              log,
		rng:              rand.New(rand.NewSource(seed)),
	}
}

// Run interprets path from its first node, returning the accumulated
// IntrpProducts. It never returns an error: decode/semantic gaps are
// logged and treated as nondeterministic per spec.md §7, matching the
// teacher's cpu.Tick never panicking on an unimplemented opcode.
func (in *Interpreter) Run(path sampler.Path) *IntrpProducts {
	state := abstrmem.NewVMState(0)
	products := &IntrpProducts{IWordInfo: make(map[uint64]sampler.IWordInfo, len(path))}

	for _, node := range path {
		addr := node.ID.Address
		products.IWordInfo[addr] = node.Info

		if node.Info.Has(sampler.InfoIsReturnPoint) {
			if caller, ok := state.PopFrame(); ok {
				in.normalizeEscapingRegs(state, caller)
			}
		}

		if state.InvocationCount[addr] >= uint64(in.RepeatIterations) {
			in.Log.Warnf("repeat bound (%d) exceeded at %#x, truncating path", in.RepeatIterations, addr)
			break
		}
		state.InvocationCount[addr]++

		insn, err := in.Disasm.InstructionSemantics(addr)
		if err != nil {
			in.Log.Warnf("decode gap at %#x: %v", addr, err)
		} else {
			in.step(state, insn, products)
			if node.Info.Has(sampler.InfoCallsMalloc) {
				in.bindMallocReturn(state, insn, addr)
			}
		}

		if node.Info.Has(sampler.InfoIsCall) {
			state.PushFrame(abstrmem.Frame{
				InvocationSite: addr,
				Instance:       state.InvocationCount[addr],
				ReturnAddr:     addr,
				SPAtEntry:      in.regOr(state, "sp", abstrmem.Global),
			})
		}
	}
	products.MaxPathLen = len(path)
	return products
}

// bindMallocReturn seeds the ABI return-value register of a call site
// flagged CallsMalloc with a freshly allocated Heap region, keyed by
// the call site's own address and this path's invocation count at
// that site, instead of letting the next read of that register fall
// through to a tainted random value. Grounded in spec.md §4.6's
// heap-discovery rule and the MOS fixture of S5.
func (in *Interpreter) bindMallocReturn(state *abstrmem.VMState, insn disasm.InsnSemantics, addr uint64) {
	if len(insn.Regs) == 0 {
		return
	}
	dest := insn.Regs[0].Name
	if dest == "" {
		return
	}
	state.SetReg(dest, abstrmem.Value{
		Region: abstrmem.Heap(addr, state.InvocationCount[addr]),
		Offset: big.NewInt(0),
	})
}

func (in *Interpreter) regOr(state *abstrmem.VMState, name string, fallback abstrmem.MemRegion) abstrmem.Value {
	if v, ok := state.GetReg(name); ok {
		return v
	}
	return abstrmem.Value{Region: fallback, Offset: big.NewInt(0)}
}

// normalizeEscapingRegs passes every register through
// abstrmem.NormalizeEscaping with the frame just popped, so every
// Stack-region register is rewritten to that frame's region, whichever
// frame it pointed into before.
func (in *Interpreter) normalizeEscapingRegs(state *abstrmem.VMState, caller abstrmem.Frame) {
	for name, v := range state.Regs {
		state.Regs[name] = abstrmem.NormalizeEscaping(v, caller)
	}
}

func (in *Interpreter) step(state *abstrmem.VMState, insn disasm.InsnSemantics, products *IntrpProducts) {
	switch insn.Op {
	case disasm.OpLoad:
		in.execLoad(state, insn, products)
	case disasm.OpStore:
		in.execStore(state, insn, products)
	case disasm.OpArithmetic, disasm.OpLogical, disasm.OpCast:
		in.execCompute(state, insn)
	case disasm.OpCall, disasm.OpJump:
		in.resolveIndirectTarget(state, insn, products)
	case disasm.OpBranch, disasm.OpReturn, disasm.OpNop:
		// No abstract-value effect modeled for these per spec.md §4.6.
	}
}

// execLoad handles `dest := mem[addr]`: operand 0 is the destination
// register, operand 1 the memory expression.
func (in *Interpreter) execLoad(state *abstrmem.VMState, insn disasm.InsnSemantics, products *IntrpProducts) {
	if len(insn.Operands) < 2 {
		in.Log.Warnf("load at %#x missing operands", insn.Addr)
		return
	}
	addrVal := in.evalMemOperand(state, insn.Operands[1])
	v, hit := state.Load(addrVal)
	if !hit {
		v = in.freshTaintedRandom()
	}
	dest := insn.Operands[0].Register
	if dest != "" {
		if hit {
			state.SetReg(dest, v)
		} else {
			state.SetRegTainted(dest, v)
		}
	}
	products.MOS = append(products.MOS, MemOp{InstrAddr: insn.Addr, Addr: addrVal.Key()})
}

// execStore handles `mem[addr] := val`: operand 0 is the memory
// expression, operand 1 the source value.
func (in *Interpreter) execStore(state *abstrmem.VMState, insn disasm.InsnSemantics, products *IntrpProducts) {
	if len(insn.Operands) < 2 {
		in.Log.Warnf("store at %#x missing operands", insn.Addr)
		return
	}
	addrVal := in.evalMemOperand(state, insn.Operands[0])
	val := in.evalOperand(state, insn.Operands[1])
	state.Store(addrVal, val)
	products.MOS = append(products.MOS, MemOp{InstrAddr: insn.Addr, Addr: addrVal.Key()})
}

// execCompute handles arithmetic/logical/cast ops: operand 0 is the
// destination register, operands 1.. are sources combined left to
// right by the abstract value rule of spec.md §4.6.
func (in *Interpreter) execCompute(state *abstrmem.VMState, insn disasm.InsnSemantics) {
	if len(insn.Operands) < 2 {
		in.Log.Warnf("compute op at %#x missing operands", insn.Addr)
		return
	}
	dest := insn.Operands[0].Register
	acc := in.evalOperand(state, insn.Operands[1])
	tainted := false
	for _, op := range insn.Operands[2:] {
		v := in.evalOperand(state, op)
		var t bool
		acc, t = in.combine(acc, v)
		tainted = tainted || t
	}
	if dest == "" {
		return
	}
	if tainted {
		state.SetRegTainted(dest, acc)
	} else {
		state.SetReg(dest, acc)
	}
}

// combine implements the abstract value rule for a binary operation,
// per spec.md §4.6. The concrete opcode (add, xor, ...) is owned by
// the host disassembler/semantics, not modeled here: only the region
// algebra (Global/Global, Global/Region, else-tainted) is.
func (in *Interpreter) combine(a, b abstrmem.Value) (abstrmem.Value, bool) {
	switch {
	case a.IsGlobal() && b.IsGlobal():
		return abstrmem.NewGlobal(new(big.Int).Add(a.Offset, b.Offset)), false
	case a.IsGlobal() != b.IsGlobal():
		region, offset := a, b
		if a.IsGlobal() {
			region, offset = b, a
		}
		return region.WithOffset(new(big.Int).Add(region.Offset, offset.Offset)), false
	default:
		return in.freshTaintedRandom(), true
	}
}

func (in *Interpreter) evalMemOperand(state *abstrmem.VMState, op disasm.Operand) abstrmem.Value {
	if !op.IsMemory {
		return in.evalOperand(state, op)
	}
	base, ok := state.GetReg(op.MemBase)
	if !ok {
		in.Log.Warnf("memory base register %q unbound", op.MemBase)
		return in.freshTaintedRandom()
	}
	return base.WithOffset(new(big.Int).Add(base.Offset, big.NewInt(op.MemOffset)))
}

func (in *Interpreter) evalOperand(state *abstrmem.VMState, op disasm.Operand) abstrmem.Value {
	switch {
	case op.IsMemory:
		addr := in.evalMemOperand(state, op)
		v, hit := state.Load(addr)
		if !hit {
			return in.freshTaintedRandom()
		}
		return v
	case op.IsImm:
		return abstrmem.NewGlobal(big.NewInt(op.Immediate))
	case op.Register != "":
		if v, ok := state.GetReg(op.Register); ok {
			return v
		}
		in.Log.Warnf("register %q unbound", op.Register)
		return in.freshTaintedRandom()
	default:
		return in.freshTaintedRandom()
	}
}

func (in *Interpreter) freshTaintedRandom() abstrmem.Value {
	return abstrmem.GlobalUint64(uint64(in.rng.Int63()))
}

// resolveIndirectTarget implements spec.md §4.6's indirect branch
// target resolution: if the target operand is register-based (not an
// immediate — a direct target is already known statically) and
// evaluates to an untainted Global, emit a ConcreteCodeXref; tainted
// targets are discarded.
func (in *Interpreter) resolveIndirectTarget(state *abstrmem.VMState, insn disasm.InsnSemantics, products *IntrpProducts) {
	if len(insn.Operands) == 0 {
		return
	}
	target := insn.Operands[0]
	if target.IsImm {
		return
	}
	if target.Register == "" {
		return
	}
	if state.RegTaint[target.Register] {
		return
	}
	v, ok := state.GetReg(target.Register)
	if !ok || !v.IsGlobal() {
		return
	}
	to := v.Offset.Uint64()
	xref := ConcreteCodeXref{From: insn.Addr, To: to}
	if insn.Op == disasm.OpCall {
		xref.Kind = IndirectCall
		products.ConcreteCalls = append(products.ConcreteCalls, xref)
	} else {
		xref.Kind = IndirectJump
		products.ConcreteJumps = append(products.ConcreteJumps, xref)
	}
}
