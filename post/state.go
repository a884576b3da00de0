package post

import "github.com/rot127/bda-go/flowgraph"

// stateIdx identifies one worklist state: a call-stack depth plus the
// node reached at that depth, per spec.md §4.8.
type stateIdx struct {
	cs   int
	node flowgraph.NodeID
}

// memDefMap is M2I: an abstract-value key to the set of instruction
// addresses currently defining it, reaching one stateIdx.
type memDefMap map[string]map[uint64]struct{}

func newMemDefMap() memDefMap { return make(memDefMap) }

// strongUpdate replaces av's defining set with exactly {iaddr}.
func (m memDefMap) strongUpdate(av string, iaddr uint64) {
	m[av] = map[uint64]struct{}{iaddr: {}}
}

// insert adds iaddr to av's defining set without discarding the rest.
func (m memDefMap) insert(av string, iaddr uint64) {
	s, ok := m[av]
	if !ok {
		s = make(map[uint64]struct{})
		m[av] = s
	}
	s[iaddr] = struct{}{}
}

// merge sets m[av] = m[av] ∪ other[av] for every av in other.
func (m memDefMap) merge(other memDefMap) {
	for av, set := range other {
		s, ok := m[av]
		if !ok {
			s = make(map[uint64]struct{}, len(set))
			m[av] = s
		}
		for a := range set {
			s[a] = struct{}{}
		}
	}
}

// contains reports whether m already holds every (av, defining-set)
// pair in other, i.e. merging other into m would add nothing new.
func (m memDefMap) contains(other memDefMap) bool {
	for av, set := range other {
		mine, ok := m[av]
		if !ok {
			return false
		}
		for a := range set {
			if _, ok := mine[a]; !ok {
				return false
			}
		}
	}
	return true
}

func (m memDefMap) clone() memDefMap {
	out := make(memDefMap, len(m))
	for av, set := range m {
		s := make(map[uint64]struct{}, len(set))
		for a := range set {
			s[a] = struct{}{}
		}
		out[av] = s
	}
	return out
}

// m2iContains reports whether state[succ] already contains state[cur],
// meaning propagation to succ would be a no-op.
func m2iContains(state map[stateIdx]memDefMap, succ, cur stateIdx) bool {
	succM2I, sok := state[succ]
	curM2I, cok := state[cur]
	if !sok || !cok {
		return false
	}
	return succM2I.contains(curM2I)
}

// mergeInto sets state[succ] = state[succ] ∪ state[cur], creating
// state[succ] from a clone of state[cur] if absent. A missing
// state[cur] leaves succ untouched.
func mergeInto(state map[stateIdx]memDefMap, succ, cur stateIdx) {
	curM2I, ok := state[cur]
	if !ok {
		return
	}
	if a, ok := state[succ]; ok {
		a.merge(curM2I)
	} else {
		state[succ] = curM2I.clone()
	}
}

// workList is the stack-indexed queue of spec.md §4.8: work at call-
// stack depth d only starts once depth d+1 has drained, so intra-frame
// propagation completes before returning to a parent frame.
type workList struct {
	levels map[int][]flowgraph.NodeID
	head   int
}

func newWorkList(entries []flowgraph.NodeID) *workList {
	return &workList{levels: map[int][]flowgraph.NodeID{0: append([]flowgraph.NodeID{}, entries...)}}
}

func (w *workList) pushBack(cs int, n flowgraph.NodeID) {
	w.levels[cs] = append(w.levels[cs], n)
	if cs > w.head {
		w.head = cs
	}
}

func (w *workList) popFront() (int, flowgraph.NodeID) {
	for len(w.levels[w.head]) == 0 && w.head > 0 {
		w.head--
	}
	q := w.levels[w.head]
	n := q[0]
	w.levels[w.head] = q[1:]
	return w.head, n
}

func (w *workList) isEmpty() bool {
	for d, q := range w.levels {
		if d <= w.head && len(q) > 0 {
			return false
		}
	}
	return true
}
