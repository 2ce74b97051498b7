package reward

import (
	"context"
	"math"
	"time"
)

// #region signal

// DefaultReliabilityThreshold is the confidence a signal needs before it may
// touch the long-term profile in real time.
const DefaultReliabilityThreshold = 0.3

// Signal is the implicit user response to one reaction.
type Signal struct {
	Score       float64   // [-1, 1]
	Confidence  float64   // [0, 1]
	RawFeatures []float64 // sensor-specific, may be nil
}

// Neutral is the signal returned when nothing could be observed.
func Neutral() Signal {
	return Signal{}
}

// Reliable reports whether the signal is confident enough for threshold.
func (s Signal) Reliable(threshold float64) bool {
	return s.Confidence >= threshold
}

// Clamp bounds Score and Confidence and replaces NaN with 0.
func (s Signal) Clamp() Signal {
	s.Score = clamp(s.Score, -1, 1)
	s.Confidence = clamp(s.Confidence, 0, 1)
	return s
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion signal

// #region evaluator-interface

// Evaluator observes the user after a reaction and turns what it saw into a Signal.
// Implementations must never panic or return an error from Evaluate: an unusable
// sensor yields Neutral().
type Evaluator interface {
	// Prepare acquires the sensor. It is idempotent; on failure the evaluator
	// stays unavailable and the error is only informational.
	Prepare(ctx context.Context) error
	Available() bool
	// Evaluate observes for window (or until ctx is done).
	Evaluate(ctx context.Context, window time.Duration) Signal
	Close() error
}

// #endregion evaluator-interface

// #region unavailable

// Unavailable is an Evaluator with no sensor behind it.
type Unavailable struct{}

func (Unavailable) Prepare(context.Context) error                   { return nil }
func (Unavailable) Available() bool                                 { return false }
func (Unavailable) Evaluate(context.Context, time.Duration) Signal { return Neutral() }
func (Unavailable) Close() error                                    { return nil }

// #endregion unavailable
