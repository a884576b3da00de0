package abstrmem

// Frame is one call-stack entry of the abstract interpreter's VM
// state, per spec.md §4.6: invocation site, instance counter, return
// address, and the stack pointer's abstract value at entry.
// NormalizeEscaping does not read SPAtEntry.
type Frame struct {
	InvocationSite uint64
	Instance       uint64
	ReturnAddr     uint64
	SPAtEntry      Value
}

// VMState is the abstract interpreter's machine state (spec.md §4.6):
// program counter, per-instruction invocation counters, loop
// predicates, a register file, a memory store map, taint bitmaps, the
// call stack, and local/let-bound variable maps.
type VMState struct {
	PC uint64

	// InvocationCount counts how many times each address has been
	// reached on this path, used to bound REPEAT unrolling and to
	// disambiguate stack/heap region invocations.
	InvocationCount map[uint64]uint64

	// LoopPredicate records the last evaluated condition of a REPEAT at
	// a given address, consulted by the bounded-unrolling logic.
	LoopPredicate map[uint64]bool

	Regs map[string]Value
	Mem  map[string]Value // keyed by Value.Key()

	RegTaint map[string]bool
	MemTaint map[string]bool // keyed by Value.Key()

	CallStack []Frame

	Locals map[string]Value
	Lets   map[string]Value
}

// NewVMState returns a VMState with its PC at entry and all maps
// initialized empty.
func NewVMState(entry uint64) *VMState {
	return &VMState{
		PC:              entry,
		InvocationCount: make(map[uint64]uint64),
		LoopPredicate:   make(map[uint64]bool),
		Regs:            make(map[string]Value),
		Mem:             make(map[string]Value),
		RegTaint:        make(map[string]bool),
		MemTaint:        make(map[string]bool),
		Locals:          make(map[string]Value),
		Lets:            make(map[string]Value),
	}
}

// GetReg returns the bound value of the global variable name, and
// whether it was bound.
func (s *VMState) GetReg(name string) (Value, bool) {
	v, ok := s.Regs[name]
	return v, ok
}

// SetReg binds name to v, clearing any taint on it.
func (s *VMState) SetReg(name string, v Value) {
	s.Regs[name] = v
	delete(s.RegTaint, name)
}

// SetRegTainted binds name to v and marks it tainted (nondeterministic
// origin), per spec.md §4.6's abstract value rules.
func (s *VMState) SetRegTainted(name string, v Value) {
	s.Regs[name] = v
	s.RegTaint[name] = true
}

// Load returns the value stored at abstract address a, or a miss
// signal (ok=false) when a has never been written — the caller must
// synthesize a fresh tainted random value per spec.md §4.6.
func (s *VMState) Load(a Value) (Value, bool) {
	v, ok := s.Mem[a.Key()]
	return v, ok
}

// Store performs a strong update of mem[a] := v.
func (s *VMState) Store(a, v Value) {
	s.Mem[a.Key()] = v
}

// PushFrame pushes a new call-stack frame.
func (s *VMState) PushFrame(f Frame) {
	s.CallStack = append(s.CallStack, f)
}

// PopFrame pops and returns the top call-stack frame, or ok=false if
// the stack is already empty (the outermost frame).
func (s *VMState) PopFrame() (Frame, bool) {
	if len(s.CallStack) == 0 {
		return Frame{}, false
	}
	n := len(s.CallStack) - 1
	f := s.CallStack[n]
	s.CallStack = s.CallStack[:n]
	return f, true
}

// CurrentFrame returns the top call-stack frame, or ok=false if empty.
func (s *VMState) CurrentFrame() (Frame, bool) {
	if len(s.CallStack) == 0 {
		return Frame{}, false
	}
	return s.CallStack[len(s.CallStack)-1], true
}

// NormalizeEscaping rewrites a Stack-region value so its region becomes
// Stack(caller.InvocationSite, caller.Instance). The offset is carried
// over unchanged: it is not composed with caller.SPAtEntry or with any
// other frame offset. A value that is not a Stack region is returned
// unchanged.
func NormalizeEscaping(v Value, caller Frame) Value {
	if v.Region.Kind != RegionStack {
		return v
	}
	return Value{
		Region: Stack(caller.InvocationSite, caller.Instance),
		Offset: v.Offset,
		Source: v.Source,
	}
}
