package sampler

import (
	"math/big"
	"math/rand"

	"github.com/rot127/bda-go/weight"
)

// approxWeight is the (sig, exp) pair of spec.md §4.5 standing in for
// sig*2^exp: the top 64 bits of a weight plus the bit-shift needed to
// recover its true magnitude. It lets the coin-flip step below compare
// arbitrary-precision weights without drawing a big-random number for
// every single branch.
type approxWeight struct {
	sig uint64
	exp uint64
}

func approximate(wmap *weight.Map, w weight.ID) approxWeight {
	bits := wmap.Log2Ceil(w)
	sig := wmap.HighBits(w, 64)
	if bits <= 64 {
		return approxWeight{sig: sig, exp: 0}
	}
	return approxWeight{sig: sig, exp: bits - 64}
}

// selectBranch decides whether the candidate weight wins against the
// combined weight of its remaining siblings (rest), per spec.md §4.5.
// Both sides are approximated as sig*2^exp, and gap is how far the
// candidate's exponent exceeds the rest's (0 when it does not). If
// gap >= 64, gap coin flips are made and the candidate wins if any of
// them comes up 1. Otherwise a uniform integer is drawn from
// [0, c.sig*2^gap + r.sig) with math/big and the candidate wins iff the
// draw is >= r.sig. The rest's significand is never scaled up, so when
// the rest has the larger exponent the drawn range does not span the
// true combined weight.
func selectBranch(wmap *weight.Map, rng *rand.Rand, candidate, rest weight.ID) bool {
	if wmap.IsUndetermined(rest) || wmap.Cmp(rest, wmap.Zero()) == 0 {
		return true
	}
	if wmap.IsUndetermined(candidate) || wmap.Cmp(candidate, wmap.Zero()) == 0 {
		return false
	}

	c := approximate(wmap, candidate)
	r := approximate(wmap, rest)

	var gap uint64
	if c.exp > r.exp {
		gap = c.exp - r.exp
	}
	if gap >= 64 {
		won := false
		for i := uint64(0); i < gap; i++ {
			if rng.Int63()&1 == 1 {
				won = true
			}
		}
		return won
	}

	sigC := new(big.Int).Lsh(new(big.Int).SetUint64(c.sig), uint(gap))
	sigR := new(big.Int).SetUint64(r.sig)
	span := new(big.Int).Add(sigC, sigR)
	if span.Sign() == 0 {
		return true
	}
	draw := new(big.Int).Rand(rng, span)
	return draw.Cmp(sigR) >= 0
}

// pickWeighted performs the N-way pairwise-elimination selection of
// spec.md §4.5 over candidates, each scored by weightOf: compare the
// first candidate's weight against the sum of the rest; if it loses,
// drop it and repeat with the remaining candidates. The last candidate
// standing is returned if every other one loses its comparison.
func pickWeighted[T any](wmap *weight.Map, rng *rand.Rand, candidates []T, weightOf func(T) weight.ID) T {
	remaining := candidates
	for len(remaining) > 1 {
		restWeight := wmap.Zero()
		for _, c := range remaining[1:] {
			restWeight = wmap.Add(restWeight, weightOf(c))
		}
		if selectBranch(wmap, rng, weightOf(remaining[0]), restWeight) {
			return remaining[0]
		}
		remaining = remaining[1:]
	}
	return remaining[0]
}
