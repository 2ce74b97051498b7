package bandit

import (
	"math"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region config
// Config bounds the Beta posteriors.
type Config struct {
	MaxParameterSum float64 // alpha+beta cap per arm; above it both are rescaled
	MinParameter    float64 // floor for alpha and beta
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxParameterSum: 100,
		MinParameter:    state.MinParameter,
	}
}
// #endregion config

// #region bandit
// Bandit is a Thompson-sampling policy over state.NumActions arms.
// Update and consolidation are pure: the input profile is never mutated.
type Bandit struct {
	cfg     Config
	sampler *Sampler
	now     func() time.Time
}

// Option configures a Bandit.
type Option func(*Bandit)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bandit) { b.now = now }
}

// New builds a Bandit. A nil sampler gets a randomly seeded one.
func New(cfg Config, sampler *Sampler, opts ...Option) *Bandit {
	if cfg.MaxParameterSum <= 0 {
		cfg.MaxParameterSum = DefaultConfig().MaxParameterSum
	}
	if cfg.MinParameter <= 0 {
		cfg.MinParameter = DefaultConfig().MinParameter
	}
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	b := &Bandit{cfg: cfg, sampler: sampler, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the bounds in use.
func (b *Bandit) Config() Config { return b.cfg }
// #endregion bandit

// #region select
// SelectAction samples every arm and returns the index of the highest score.
// Each score is a Beta draw plus ContextBias[min(i*2, len-1)]. Ties go to the
// lowest index.
func (b *Bandit) SelectAction(p state.UserProfile, _ state.ContextSnapshot) int {
	n := state.NumActions
	best := 0
	bestScore := math.Inf(-1)
	for i := 0; i < n; i++ {
		a := b.floor(at(p.Alpha, i, 1))
		bb := b.floor(at(p.Beta, i, 1))
		score := b.sampler.Beta(a, bb) + contextBias(p.ContextBias, i)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

func contextBias(bias []float64, i int) float64 {
	if len(bias) == 0 {
		return 0
	}
	idx := i * 2
	if idx > len(bias)-1 {
		idx = len(bias) - 1
	}
	v := bias[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
// #endregion select

// #region update
// UpdateFromReward applies one real-time observation. A positive reward is added
// to alpha, anything else adds |reward| to beta. Counters move even for an
// out-of-range action, whose arms are left untouched.
func (b *Bandit) UpdateFromReward(p state.UserProfile, action int, reward float64) state.UserProfile {
	out := b.normalized(p)
	if action >= 0 && action < state.NumActions {
		r := clampReward(reward)
		a, bb := out.Alpha[action], out.Beta[action]
		if r > 0 {
			a += r
		} else {
			bb += math.Abs(r)
		}
		out.Alpha[action], out.Beta[action] = b.capArm(a, bb)
	}
	out.TotalInteractions++
	out.UpdatedAt = b.now()
	return out
}
// #endregion update

// #region consolidate
// Consolidate folds a batch of rewards per action into the profile in one step
// per arm, then advances Version and TotalConsolidations. It is the only
// operation that changes Version. Out-of-range actions are skipped.
func (b *Bandit) Consolidate(p state.UserProfile, rewards map[int][]float64) state.UserProfile {
	out := b.normalized(p)
	for action := 0; action < state.NumActions; action++ {
		rs, ok := rewards[action]
		if !ok || len(rs) == 0 {
			continue
		}
		var pos, neg float64
		for _, r := range rs {
			r = clampReward(r)
			if r > 0 {
				pos += r
			} else {
				neg += math.Abs(r)
			}
		}
		out.Alpha[action], out.Beta[action] = b.capArm(out.Alpha[action]+pos, out.Beta[action]+neg)
	}
	out.Version++
	out.TotalConsolidations++
	out.UpdatedAt = b.now()
	return out
}
// #endregion consolidate

// #region bounds
// normalized returns a deep copy with fixed-length arrays and every arm inside bounds.
func (b *Bandit) normalized(p state.UserProfile) state.UserProfile {
	out := p.Sanitize()
	for i := 0; i < state.NumActions; i++ {
		out.Alpha[i], out.Beta[i] = b.capArm(out.Alpha[i], out.Beta[i])
	}
	return out
}

// capArm floors both parameters and rescales them proportionally when their sum
// exceeds the cap. If flooring after the rescale pushes the sum back over, the
// larger parameter absorbs the difference.
func (b *Bandit) capArm(alpha, beta float64) (float64, float64) {
	alpha = b.floor(alpha)
	beta = b.floor(beta)
	sum := alpha + beta
	if sum <= b.cfg.MaxParameterSum {
		return alpha, beta
	}
	scale := b.cfg.MaxParameterSum / sum
	alpha = b.floor(alpha * scale)
	beta = b.floor(beta * scale)
	if alpha+beta > b.cfg.MaxParameterSum {
		if alpha >= beta {
			alpha = b.cfg.MaxParameterSum - beta
		} else {
			beta = b.cfg.MaxParameterSum - alpha
		}
	}
	return alpha, beta
}

func (b *Bandit) floor(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < b.cfg.MinParameter {
		return b.cfg.MinParameter
	}
	return v
}

func clampReward(r float64) float64 {
	if math.IsNaN(r) {
		return 0
	}
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

func at(v []float64, i int, fallback float64) float64 {
	if i < len(v) {
		return v[i]
	}
	return fallback
}
// #endregion bounds
