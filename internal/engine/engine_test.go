package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntensityRule(t *testing.T) {
	// 06:00 -> hourSin = 1 -> modifier 0.8
	morning := state.SnapshotAt(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))
	assert.InDelta(t, 0.56, Intensity(state.Excitement, morning), 1e-9)
	assert.InDelta(t, 0.32, Intensity(state.Calm, morning), 1e-9)

	// 18:00 -> hourSin = -1 -> modifier clamps to 0.2 -> floor 0.1
	evening := state.SnapshotAt(time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC))
	assert.InDelta(t, 0.1, Intensity(state.Calm, evening), 1e-9)
	assert.InDelta(t, 0.14, Intensity(state.Excitement, evening), 1e-9)

	// zero snapshot -> modifier 0.5
	assert.InDelta(t, 0.3, Intensity(state.Humor, state.ContextSnapshot{}), 1e-9)
}

func TestRuleBasedInfer(t *testing.T) {
	b := bandit.New(bandit.DefaultConfig(), bandit.NewSeededSampler(1))
	e := NewRuleBased(b)
	require.True(t, e.Ready())

	p := state.DefaultProfile("u", time.Time{})
	p.Alpha[int(state.Curiosity)] = 90
	p.Beta[int(state.Curiosity)] = 1
	for i := 0; i < state.NumActions; i++ {
		if i != int(state.Curiosity) {
			p.Beta[i] = 90
		}
	}

	out, err := e.Infer(context.Background(), state.ContextSnapshot{}, p)
	require.NoError(t, err)
	assert.Equal(t, state.Curiosity, out.Action)
	assert.InDelta(t, 90.0/91.0, out.Confidence, 1e-9)
	assert.Equal(t, "rule-based: bandit selected CURIOSITY", out.Reasoning)
	assert.GreaterOrEqual(t, out.Intensity, 0.1)
	assert.LessOrEqual(t, out.Intensity, 1.0)
}

func TestInferHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Greedy{}.Infer(ctx, state.ContextSnapshot{}, state.DefaultProfile("u", time.Time{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGreedyPicksHighestExpectation(t *testing.T) {
	p := state.DefaultProfile("u", time.Time{})
	p.Alpha[int(state.Concern)] = 3
	out, err := Greedy{}.Infer(context.Background(), state.ContextSnapshot{}, p)
	require.NoError(t, err)
	assert.Equal(t, state.Concern, out.Action)
	assert.InDelta(t, 0.75, out.Confidence, 1e-9)

	// uniform prior -> lowest index
	out, err = Greedy{}.Infer(context.Background(), state.ContextSnapshot{}, state.DefaultProfile("u", time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, state.Empathy, out.Action)
}

func TestRegistrySelect(t *testing.T) {
	rb := NewRuleBased(nil) // not ready
	r := NewRegistry(rb, Greedy{})

	e, err := r.Select(CapabilityOffline)
	require.NoError(t, err)
	assert.Equal(t, "greedy", e.Name())

	_, err = r.Select(CapabilityExplore)
	assert.True(t, errors.Is(err, ErrNoEngine))

	r.Register(NewRuleBased(bandit.New(bandit.DefaultConfig(), nil)))
	e, err = r.Select(CapabilityExplore)
	require.NoError(t, err)
	assert.Equal(t, "rule-based", e.Name())

	e, err = r.ByName("greedy")
	require.NoError(t, err)
	assert.Equal(t, "greedy", e.Name())
	_, err = r.ByName("llm")
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestTemplateResponderByIntensity(t *testing.T) {
	r := NewTemplateResponder(TemplateConfig{}, rand.New(rand.NewPCG(1, 2)))
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "heh", r.Respond(Output{Action: state.Humor, Intensity: 0.1}, noon))
	assert.Equal(t, "lol", r.Respond(Output{Action: state.Humor, Intensity: 0.7}, noon))
	assert.Equal(t, "keep it up", r.Respond(Output{Action: state.Encouragement, Intensity: 1}, noon))
	assert.Equal(t, "hm", r.Respond(Output{Action: state.Action(42)}, noon))
}

func TestTemplateResponderGreetings(t *testing.T) {
	r := NewTemplateResponder(TemplateConfig{GreetingChance: 1}, rand.New(rand.NewPCG(1, 2)))
	morning := r.Respond(Output{Action: state.Calm}, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	assert.Contains(t, morningGreetings, morning)
	night := r.Respond(Output{Action: state.Calm}, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	assert.Contains(t, eveningGreetings, night)
	// afternoon never greets
	assert.Equal(t, "hm", r.Respond(Output{Action: state.Calm, Intensity: 0}, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)))
}
