// Package weight defines an interned table of arbitrary-precision
// nonnegative integer path-count weights used throughout the CFG and
// iCFG graph models. Weights routinely exceed 2^64 so every value is
// backed by math/big and referenced by a stable, comparable ID.
package weight

import (
	"fmt"
	"math/big"
	"sync"
)

// ID is a stable handle into a Map. Two IDs compare equal iff they
// reference the same interned value.
type ID uint64

// String renders the ID as its raw handle, wid(0x...); it does not name
// the zero/one constants or print the weight's value.
func (w ID) String() string {
	return fmt.Sprintf("wid(%#x)", uint64(w))
}

// Map is an interned table of nonnegative big integers, protected by a
// single reader/writer lock (reads dominate once a graph has stabilized,
// per the concurrency model in SPEC_FULL.md §7).
type Map struct {
	mu     sync.RWMutex
	vals   map[ID]*big.Int
	byText map[string]ID
	next   ID

	zero         ID
	one          ID
	undetermined ID
}

// NewMap creates an empty Map with the zero, one, and undetermined
// constants pre-interned. Undetermined aliases zero: it is the same
// interned value, but callers must never treat it as a real weight (see
// CallWeight and Undetermined).
func NewMap() *Map {
	m := &Map{
		vals:   make(map[ID]*big.Int),
		byText: make(map[string]ID),
	}
	m.zero = m.intern(big.NewInt(0))
	m.one = m.intern(big.NewInt(1))
	m.undetermined = m.zero
	return m
}

func (m *Map) intern(v *big.Int) ID {
	key := v.Text(16)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byText[key]; ok {
		return id
	}
	m.next++
	id := m.next
	m.vals[id] = new(big.Int).Set(v)
	m.byText[key] = id
	return id
}

// Intern stores n (assumed nonnegative) and returns its interned ID.
func (m *Map) Intern(n uint64) ID {
	return m.intern(new(big.Int).SetUint64(n))
}

// Zero returns the ID of the constant 0.
func (m *Map) Zero() ID { return m.zero }

// One returns the ID of the constant 1.
func (m *Map) One() ID { return m.one }

// Undetermined returns the sentinel for "not yet computed". It is the
// same ID as Zero but callers must route through CallWeight rather than
// treating it as a numeric weight directly.
func (m *Map) Undetermined() ID { return m.undetermined }

// IsUndetermined reports whether id is the undetermined sentinel.
func (m *Map) IsUndetermined(id ID) bool {
	return id == m.undetermined
}

func (m *Map) value(id ID) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[id]
	if !ok {
		panic(fmt.Sprintf("weight: unknown id %v", id))
	}
	return v
}

// Add returns the interned ID of a+b.
func (m *Map) Add(a, b ID) ID {
	av, bv := m.value(a), m.value(b)
	if a == m.zero {
		return b
	}
	if b == m.zero {
		return a
	}
	sum := new(big.Int).Add(av, bv)
	return m.intern(sum)
}

// Mul returns the interned ID of a*b. Zero is absorbing, one is the
// identity, matching the WeightNode algebra of SPEC_FULL.md §3.
func (m *Map) Mul(a, b ID) ID {
	if a == m.zero || b == m.zero {
		return m.zero
	}
	if a == m.one {
		return b
	}
	if b == m.one {
		return a
	}
	av, bv := m.value(a), m.value(b)
	return m.intern(new(big.Int).Mul(av, bv))
}

// DivExact returns a/b as a uint64, assuming b evenly divides a. Division
// by the undetermined sentinel is forbidden and panics, per §4.1.
func (m *Map) DivExact(a, b ID) uint64 {
	if b == m.undetermined {
		panic("weight: division by undetermined weight")
	}
	av, bv := m.value(a), m.value(b)
	if bv.Sign() == 0 {
		panic("weight: division by zero weight")
	}
	q := new(big.Int)
	r := new(big.Int)
	q.QuoRem(av, bv, r)
	if r.Sign() != 0 {
		panic("weight: DivExact called on non-exact division")
	}
	return q.Uint64()
}

// Log2Ceil returns the number of significant bits required to represent
// the value (its bit length, 0 for the value 0). For an exact power of
// two this is one more than log2(value), e.g. 11 for 1024.
func (m *Map) Log2Ceil(a ID) uint64 {
	v := m.value(a)
	return uint64(v.BitLen())
}

// HighBits returns the top-k bits of the value referenced by a, used by
// the path sampler's approximate weight comparison (SPEC_FULL.md §6).
func (m *Map) HighBits(a ID, k uint) uint64 {
	v := m.value(a)
	bits := uint(v.BitLen())
	if bits <= k {
		return v.Uint64()
	}
	shifted := new(big.Int).Rsh(v, bits-k)
	return shifted.Uint64()
}

// Cmp compares the values referenced by a and b.
func (m *Map) Cmp(a, b ID) int {
	return m.value(a).Cmp(m.value(b))
}

// CallWeight resolves the weight to use for a call node's callee, given
// whether the callee is external (malloc/input/unmapped) and whether the
// call is indirect-and-unresolved. These two cases, and an undetermined
// callee weight, fall back to the optimistic constant one, per Open
// Question 3 in SPEC_FULL.md/spec.md §9. CFG weight computation looks
// call weights up through here; the path sampler does not (its
// calleeWeight returns the undetermined sentinel as is, and selectBranch
// then lets such a candidate lose).
func (m *Map) CallWeight(calleeWeight ID, external, indirectUnresolved bool) ID {
	if external || indirectUnresolved || m.IsUndetermined(calleeWeight) {
		return m.one
	}
	return calleeWeight
}

// Len returns the number of distinct interned weights, used by tests to
// assert bounded growth of the map.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vals)
}

// String renders the decimal value referenced by id, for debugging.
func (m *Map) String(id ID) string {
	return m.value(id).String()
}
