// Package xrand is a small seeded pseudo-random source for test code
// only: randomized allocation sizes and randomized free order in the
// concurrency and fuzz-style property tests. Grounded on
// core/common/utils.c's random_seed/random_ndc/random_int family, ported
// onto math/rand/v2's PCG source instead of re-seeding the C standard
// library's rand() so that every test run is reproducible from an
// explicit seed rather than wall-clock time.
package xrand

import "math/rand/v2"

// Source is a seeded random source matching random_int/random_float's
// "min inclusive, max exclusive" contract.
type Source struct {
	r *rand.Rand
}

// New creates a Source seeded deterministically from seed, so a failing
// test can be reproduced by pinning the same seed.
func New(seed uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// Int returns a pseudo-random uint32 in [min, max), matching
// random_int's contract.
func (s *Source) Int(minV, maxV uint32) uint32 {
	if maxV <= minV {
		return minV
	}

	return minV + uint32(s.r.Uint32N(maxV-minV))
}

// Float64 returns a pseudo-random float64 in [0, 1), matching
// random_ndc.
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// Perm returns a pseudo-random permutation of [0, n), used by tests that
// free allocations in a randomized order.
func (s *Source) Perm(n int) []int {
	return s.r.Perm(n)
}
