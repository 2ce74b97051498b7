package engine

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// Responder turns a reaction decision into a short line of text.
type Responder interface {
	Respond(out Output, at time.Time) string
}

// #region template-responder

var phrases = [state.NumActions][]string{
	state.Empathy:       {"mm-hm", "I get it", "right?", "same here"},
	state.Humor:         {"heh", "that's kind of funny", "lol", "full of energy today"},
	state.Surprise:      {"oh", "whoa", "wait, really?", "no way"},
	state.Calm:          {"hm", "easy now", "take it slow", "it's okay"},
	state.Excitement:    {"oh", "nice", "well done!", "let's go today"},
	state.Concern:       {"hm?", "you okay?", "don't overdo it", "I'm a little worried"},
	state.Encouragement: {"you can", "go for it", "you've got this", "keep it up"},
	state.Curiosity:     {"huh", "I see", "interesting", "and then?"},
}

var (
	morningGreetings = []string{"morning", "it's morning", "nice morning"}
	eveningGreetings = []string{"good work today", "it's late", "rest easy"}
)

// TemplateConfig holds the greeting behavior.
type TemplateConfig struct {
	GreetingChance float64 // probability a morning/evening greeting replaces the phrase
}

// DefaultTemplateConfig returns the standard 30% greeting chance.
func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{GreetingChance: 0.3}
}

// TemplateResponder picks a phrase by intensity: stronger reactions use later,
// stronger phrases. Mornings (5-9h) and late nights (22-3h) sometimes get a greeting.
type TemplateResponder struct {
	cfg TemplateConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTemplateResponder builds a responder. A nil rng gets a random seed.
func NewTemplateResponder(cfg TemplateConfig, rng *rand.Rand) *TemplateResponder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &TemplateResponder{cfg: cfg, rng: rng}
}

func (r *TemplateResponder) Respond(out Output, at time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	hour := at.Hour()
	if r.rng.Float64() < r.cfg.GreetingChance {
		switch {
		case hour >= 5 && hour <= 9:
			return morningGreetings[r.rng.IntN(len(morningGreetings))]
		case hour >= 22 || hour < 4:
			return eveningGreetings[r.rng.IntN(len(eveningGreetings))]
		}
	}

	if !out.Action.Valid() {
		return "hm"
	}
	candidates := phrases[out.Action]
	idx := int(out.Intensity * float64(len(candidates)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(candidates)-1 {
		idx = len(candidates) - 1
	}
	return candidates[idx]
}

// #endregion template-responder
