package bandit

import (
	"math"
	"math/rand/v2"
	"sync"
)

// #region sampler
// Sampler draws Gamma and Beta variates from an injected source.
// It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler wraps rng. A nil rng gets a randomly seeded PCG source.
func NewSampler(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{rng: rng}
}

// NewSeededSampler returns a deterministic sampler for tests and replay.
func NewSeededSampler(seed uint64) *Sampler {
	return NewSampler(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Beta draws from Beta(alpha, beta) as X/(X+Y) with X~Gamma(alpha), Y~Gamma(beta).
func (s *Sampler) Beta(alpha, beta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	x := s.gamma(alpha)
	y := s.gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// Gamma draws from Gamma(shape, 1).
func (s *Sampler) Gamma(shape float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamma(shape)
}

// gamma implements Marsaglia–Tsang; shapes below 1 use the u^(1/shape) boost.
func (s *Sampler) gamma(shape float64) float64 {
	if shape < 1 {
		u := s.rng.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = s.rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
// #endregion sampler
