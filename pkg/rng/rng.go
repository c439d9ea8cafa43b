// Package rng holds the single random-source abstraction shared by the sampler, the
// blind-spot masker and the batch wrapper, so tests can seed every draw.
package rng

import (
	"math/rand/v2"
	"time"
)

// Source is the set of draws the generator needs. *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	// IntN returns a uniform integer in [0, n). It panics if n <= 0.
	IntN(n int) int
	// Float64 returns a uniform float in [0, 1).
	Float64() float64
	// Perm returns a uniform permutation of [0, n).
	Perm(n int) []int
	// Uint64 returns 64 uniform bits, used to derive child sources.
	Uint64() uint64
}

// New returns a PCG-backed source. Seed 0 picks a time-based seed.
func New(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Split derives an independent source from parent. Calling Split sequentially on the same
// parent yields a reproducible sequence of children.
func Split(parent Source) *rand.Rand {
	hi, lo := parent.Uint64(), parent.Uint64()
	return rand.New(rand.NewPCG(hi, lo))
}
