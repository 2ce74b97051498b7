package eval

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

func profilePair() (state.UserProfile, state.UserProfile) {
	before := state.DefaultProfile("u", time.Time{})
	after := before.Clone()
	after.Version++
	return before, after
}

func metric(r EvalResult, name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

func TestEvalPassesValidConsolidation(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	before, after := profilePair()
	after.Alpha[2] = 60
	after.Beta[2] = 40

	r := h.Run(before, after)
	if !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Reason)
	}
	m, ok := metric(r, "max_expectation_shift")
	if !ok {
		t.Fatal("missing max_expectation_shift metric")
	}
	if math.Abs(m.Value-0.1) > 1e-9 {
		t.Fatalf("expected shift 0.1, got %f", m.Value)
	}
}

func TestEvalFailsOverCap(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	before, after := profilePair()
	after.Alpha[0] = 90
	after.Beta[0] = 20

	r := h.Run(before, after)
	if r.Passed {
		t.Fatal("expected failure over cap")
	}
	if !strings.Contains(r.Reason, "exceeds cap") {
		t.Fatalf("unexpected reason: %s", r.Reason)
	}
}

func TestEvalFailsBelowFloorAndVersion(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	before, after := profilePair()
	after.Beta[4] = 0.001
	after.Version = before.Version

	r := h.Run(before, after)
	if r.Passed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(r.Reason, "2 checks") {
		t.Fatalf("expected two failed checks, got: %s", r.Reason)
	}
}

func TestEvalFailsWrongShape(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	before, after := profilePair()
	after.Alpha = after.Alpha[:3]

	r := h.Run(before, after)
	if r.Passed {
		t.Fatal("expected failure on short alpha")
	}
}

func TestEvalLargeShiftIsInformational(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	before, after := profilePair()
	after.Alpha[1] = 99
	after.Beta[1] = 1

	r := h.Run(before, after)
	if !r.Passed {
		t.Fatalf("shift must not fail the run: %s", r.Reason)
	}
	if m, _ := metric(r, "max_expectation_shift"); m.Pass {
		t.Fatal("expected shift metric to be flagged")
	}
}
