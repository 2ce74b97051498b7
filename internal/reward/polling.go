package reward

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// #region frame-scorer

// FrameScorer produces one observation per call. ok is false when the frame
// held nothing usable (e.g. no face in view); err marks a sensor fault.
type FrameScorer interface {
	Open(ctx context.Context) error
	Score(ctx context.Context) (score float64, features []float64, ok bool, err error)
	Close() error
}

// #endregion frame-scorer

// #region config

// PollingConfig holds the sampling cadence.
type PollingConfig struct {
	SampleInterval time.Duration
}

// DefaultPollingConfig returns the standard 500ms cadence.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{SampleInterval: 500 * time.Millisecond}
}

// #endregion config

// #region polling-evaluator

// PollingEvaluator samples a FrameScorer at a fixed interval across the
// evaluation window. Confidence is the fraction of expected samples captured.
type PollingEvaluator struct {
	scorer FrameScorer
	cfg    PollingConfig

	mu        sync.Mutex
	available bool
}

// NewPollingEvaluator wraps scorer. A nil scorer is never available.
func NewPollingEvaluator(scorer FrameScorer, cfg PollingConfig) *PollingEvaluator {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultPollingConfig().SampleInterval
	}
	return &PollingEvaluator{scorer: scorer, cfg: cfg}
}

// Prepare opens the scorer once.
func (e *PollingEvaluator) Prepare(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.available {
		return nil
	}
	if e.scorer == nil {
		return fmt.Errorf("prepare: no frame scorer")
	}
	if err := e.scorer.Open(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	e.available = true
	return nil
}

// Available reports whether Prepare succeeded and Close has not been called.
func (e *PollingEvaluator) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Evaluate polls for window and averages the usable frames.
func (e *PollingEvaluator) Evaluate(ctx context.Context, window time.Duration) Signal {
	if !e.Available() {
		return Neutral()
	}

	expected := int(window / e.cfg.SampleInterval)
	if expected < 1 {
		expected = 1
	}

	var (
		sum      float64
		features []float64
		captured int
	)
	sample := func() {
		score, f, ok, err := e.scorer.Score(ctx)
		if err != nil || !ok {
			return
		}
		captured++
		sum += score
		if features == nil {
			features = make([]float64, len(f))
		}
		for i := 0; i < len(f) && i < len(features); i++ {
			features[i] += f[i]
		}
	}

	ticker := time.NewTicker(e.cfg.SampleInterval)
	defer ticker.Stop()

	sample()
	for taken := 1; taken < expected; {
		select {
		case <-ctx.Done():
			return finish(sum, features, captured, expected)
		case <-ticker.C:
			sample()
			taken++
		}
	}
	return finish(sum, features, captured, expected)
}

func finish(sum float64, features []float64, captured, expected int) Signal {
	if captured == 0 {
		return Neutral()
	}
	for i := range features {
		features[i] /= float64(captured)
	}
	return Signal{
		Score:       sum / float64(captured),
		Confidence:  float64(captured) / float64(expected),
		RawFeatures: features,
	}.Clamp()
}

// Close releases the scorer. The evaluator can be prepared again afterwards.
func (e *PollingEvaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return nil
	}
	e.available = false
	return e.scorer.Close()
}

// #endregion polling-evaluator
