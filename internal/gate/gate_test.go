package gate

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

func TestRealtimeThreshold(t *testing.T) {
	g := NewConfidenceGate(DefaultConfidenceConfig())

	d := g.EvaluateRealtime(0.3)
	if d.Action != ActionApply {
		t.Fatalf("expected apply at threshold, got %s: %s", d.Action, d.Reason)
	}
	if d.Vetoed {
		t.Fatal("should not be vetoed")
	}

	d = g.EvaluateRealtime(0.299)
	if d.Action != ActionDefer {
		t.Fatalf("expected defer, got %s", d.Action)
	}
	if len(d.VetoSignals) != 1 || d.VetoSignals[0].Type != VetoLowConfidence {
		t.Fatalf("expected low confidence veto, got %+v", d.VetoSignals)
	}

	if g.AllowRealtime(math.NaN()) {
		t.Fatal("NaN confidence must not be applied")
	}
}

func TestBatchThreshold(t *testing.T) {
	g := NewConfidenceGate(DefaultConfidenceConfig())
	if !g.AllowBatch(0.2) {
		t.Fatal("0.2 should be consolidated")
	}
	if g.AllowBatch(0.19) {
		t.Fatal("0.19 should be ignored")
	}
	// between the thresholds: deferred now, used later
	if g.AllowRealtime(0.25) || !g.AllowBatch(0.25) {
		t.Fatal("0.25 should be batch-only")
	}
}

func TestDeviceGateAllMet(t *testing.T) {
	g := NewDeviceGate(DefaultDeviceConfig())
	d := g.Evaluate(state.DeviceState{Charging: true, Unmetered: true, BatteryLevel: 0.9})
	if d.Action != ActionRun {
		t.Fatalf("expected run, got %s: %s", d.Action, d.Reason)
	}
}

func TestDeviceGateCollectsAllVetoes(t *testing.T) {
	g := NewDeviceGate(DefaultDeviceConfig())
	d := g.Evaluate(state.DeviceState{BatteryLow: true})
	if d.Action != ActionSkip {
		t.Fatalf("expected skip, got %s", d.Action)
	}
	if len(d.VetoSignals) != 3 {
		t.Fatalf("expected 3 vetoes, got %d", len(d.VetoSignals))
	}
}

func TestDeviceGateRelaxed(t *testing.T) {
	g := NewDeviceGate(DeviceConfig{RequireBatteryNotLow: true})
	if d := g.Evaluate(state.DeviceState{}); d.Action != ActionRun {
		t.Fatalf("expected run, got %s: %s", d.Action, d.Reason)
	}
	if d := g.Evaluate(state.DeviceState{BatteryLow: true}); d.Action != ActionSkip {
		t.Fatalf("expected skip, got %s", d.Action)
	}
}
