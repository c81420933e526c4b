package tensor

import (
	"math"
	"math/rand/v2"
	"sync"
)

// RNG is a seeded random source safe for concurrent use. Model
// initialization, dropout and token sampling all draw from an RNG so runs
// are reproducible for a given seed.
type RNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed uint64) *RNG {
	//nolint:gosec // Model sampling is not security-critical.
	return &RNG{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 returns a uniform value in [0, 1).
func (g *RNG) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Float64()
}

// IntN returns a uniform integer in [0, n).
func (g *RNG) IntN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.IntN(n)
}

// Perm returns a random permutation of [0, n).
func (g *RNG) Perm(n int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Perm(n)
}

// Bernoulli returns true with probability p.
func (g *RNG) Bernoulli(p float64) bool {
	return g.Float64() < p
}

// Choice draws k indices uniformly from [0, n). Without replacement the
// result is in random order and k must not exceed n.
func (g *RNG) Choice(n, k int, replace bool) []int {
	out := make([]int, k)
	if replace {
		g.mu.Lock()
		for i := range out {
			out[i] = g.r.IntN(n)
		}
		g.mu.Unlock()
		return out
	}
	copy(out, g.Perm(n)[:k])
	return out
}

// TruncNormalInPlace fills t with N(0, std²) samples truncated to the
// absolute interval [a, b] by rejection, like timm's trunc_normal_.
func (g *RNG) TruncNormalInPlace(t *Tensor, std, a, b float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range t.data {
		for {
			v := g.r.NormFloat64() * std
			if v >= a && v <= b {
				t.data[i] = float32(v)
				break
			}
		}
	}
}

// UniformInPlace fills t with samples from U(lo, hi).
func (g *RNG) UniformInPlace(t *Tensor, lo, hi float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range t.data {
		t.data[i] = float32(lo + (hi-lo)*g.r.Float64())
	}
}

// KaimingUniformBound returns the bound PyTorch uses for the default
// kaiming_uniform_(a=sqrt(5)) weight init of Linear and Conv layers.
func KaimingUniformBound(fanIn int) float64 {
	if fanIn <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(fanIn))
}
