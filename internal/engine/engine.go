package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region types

// Capability tags what an engine can do so the composition root can pick one.
type Capability string

const (
	CapabilityOffline       Capability = "offline"       // no network needed
	CapabilityExplore       Capability = "explore"       // samples the posterior
	CapabilityDeterministic Capability = "deterministic" // same input, same output
)

// Output is one reaction decision.
type Output struct {
	Action     state.Action
	Intensity  float64 // [0.1, 1.0]
	Confidence float64 // expectation of the chosen arm
	Reasoning  string
	Engine     string
}

// Engine chooses a reaction for a context snapshot under a profile.
type Engine interface {
	Name() string
	Capabilities() []Capability
	Ready() bool
	Infer(ctx context.Context, snap state.ContextSnapshot, profile state.UserProfile) (Output, error)
}

// ErrNoEngine is returned by Registry.Select when nothing matches.
var ErrNoEngine = errors.New("no ready engine")

// #endregion types

// #region intensity

// baseIntensity is the per-action starting intensity before the time-of-day modifier.
var baseIntensity = [state.NumActions]float64{
	state.Empathy:       0.6,
	state.Humor:         0.6,
	state.Surprise:      0.5,
	state.Calm:          0.4,
	state.Excitement:    0.7,
	state.Concern:       0.5,
	state.Encouragement: 0.6,
	state.Curiosity:     0.5,
}

// Intensity applies the time-of-day modifier to the action's base intensity.
func Intensity(action state.Action, snap state.ContextSnapshot) float64 {
	mod := clamp(0.5+snap.HourSin()*0.3, 0.2, 0.9)
	base := 0.5
	if action.Valid() {
		base = baseIntensity[action]
	}
	return clamp(base*mod, 0.1, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// #endregion intensity

// #region rule-based

// RuleBased picks the arm by Thompson sampling and sets intensity from the clock.
type RuleBased struct {
	bandit *bandit.Bandit
}

// NewRuleBased wraps b.
func NewRuleBased(b *bandit.Bandit) *RuleBased {
	return &RuleBased{bandit: b}
}

func (e *RuleBased) Name() string { return "rule-based" }

func (e *RuleBased) Capabilities() []Capability {
	return []Capability{CapabilityOffline, CapabilityExplore}
}

func (e *RuleBased) Ready() bool { return e.bandit != nil }

func (e *RuleBased) Infer(ctx context.Context, snap state.ContextSnapshot, profile state.UserProfile) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	idx := e.bandit.SelectAction(profile, snap)
	action := state.ActionFromIndex(idx)
	return Output{
		Action:     action,
		Intensity:  Intensity(action, snap),
		Confidence: profile.Expectation(idx),
		Reasoning:  fmt.Sprintf("rule-based: bandit selected %s", action),
		Engine:     e.Name(),
	}, nil
}

// #endregion rule-based

// #region greedy

// Greedy always exploits: it picks the arm with the highest expectation.
type Greedy struct{}

func (Greedy) Name() string { return "greedy" }

func (Greedy) Capabilities() []Capability {
	return []Capability{CapabilityOffline, CapabilityDeterministic}
}

func (Greedy) Ready() bool { return true }

func (g Greedy) Infer(ctx context.Context, snap state.ContextSnapshot, profile state.UserProfile) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	best := 0
	for i := 1; i < state.NumActions; i++ {
		if profile.Expectation(i) > profile.Expectation(best) {
			best = i
		}
	}
	action := state.Action(best)
	return Output{
		Action:     action,
		Intensity:  Intensity(action, snap),
		Confidence: profile.Expectation(best),
		Reasoning:  fmt.Sprintf("greedy: highest expectation %s", action),
		Engine:     g.Name(),
	}, nil
}

// #endregion greedy

// #region registry

// Registry holds engines in preference order.
type Registry struct {
	mu      sync.RWMutex
	engines []Engine
}

// NewRegistry registers engines in preference order.
func NewRegistry(engines ...Engine) *Registry {
	return &Registry{engines: engines}
}

// Register appends an engine with the lowest preference.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, e)
}

// Select returns the first ready engine that has every required capability.
func (r *Registry) Select(required ...Capability) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.engines {
		if e.Ready() && hasAll(e.Capabilities(), required) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("select %v: %w", required, ErrNoEngine)
}

// ByName returns the named engine.
func (r *Registry) ByName(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.engines {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("engine %q: %w", name, ErrNoEngine)
}

func hasAll(have, want []Capability) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// #endregion registry
