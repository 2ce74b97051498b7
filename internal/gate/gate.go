package gate

import (
	"fmt"
	"math"
	"strings"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region confidence-gate
// ConfidenceGate decides whether a reward signal may change the profile.
type ConfidenceGate struct {
	config ConfidenceConfig
}

// NewConfidenceGate creates a gate with the given thresholds.
func NewConfidenceGate(config ConfidenceConfig) *ConfidenceGate {
	return &ConfidenceGate{config: config}
}

// Config returns the thresholds in use.
func (g *ConfidenceGate) Config() ConfidenceConfig { return g.config }

// EvaluateRealtime returns "apply" when confidence reaches the real-time threshold.
func (g *ConfidenceGate) EvaluateRealtime(confidence float64) GateDecision {
	return evaluateThreshold(confidence, g.config.RealtimeThreshold)
}

// AllowRealtime is EvaluateRealtime reduced to a bool.
func (g *ConfidenceGate) AllowRealtime(confidence float64) bool {
	return g.EvaluateRealtime(confidence).Action == ActionApply
}

// AllowBatch reports whether a logged signal is confident enough to consolidate.
func (g *ConfidenceGate) AllowBatch(confidence float64) bool {
	return evaluateThreshold(confidence, g.config.BatchThreshold).Action == ActionApply
}

func evaluateThreshold(confidence, threshold float64) GateDecision {
	if math.IsNaN(confidence) || confidence < threshold {
		return GateDecision{
			Action: ActionDefer,
			Reason: fmt.Sprintf("confidence %.3f below %.3f", confidence, threshold),
			Vetoed: true,
			VetoSignals: []VetoSignal{{
				Type:   VetoLowConfidence,
				Reason: fmt.Sprintf("confidence %.3f < %.3f", confidence, threshold),
			}},
		}
	}
	return GateDecision{
		Action: ActionApply,
		Reason: fmt.Sprintf("confidence %.3f >= %.3f", confidence, threshold),
	}
}
// #endregion confidence-gate

// #region device-gate
// DeviceGate checks the device preconditions for background consolidation.
type DeviceGate struct {
	config DeviceConfig
}

// NewDeviceGate creates a gate with the given requirements.
func NewDeviceGate(config DeviceConfig) *DeviceGate {
	return &DeviceGate{config: config}
}

// Evaluate collects every failed precondition; any veto means "skip".
func (g *DeviceGate) Evaluate(d state.DeviceState) GateDecision {
	var vetoes []VetoSignal

	if g.config.RequireCharging && !d.Charging {
		vetoes = append(vetoes, VetoSignal{Type: VetoNotCharging, Reason: "device is not charging"})
	}
	if g.config.RequireUnmetered && !d.Unmetered {
		vetoes = append(vetoes, VetoSignal{Type: VetoMetered, Reason: "network is metered"})
	}
	if g.config.RequireBatteryNotLow && d.BatteryLow {
		vetoes = append(vetoes, VetoSignal{Type: VetoBatteryLow, Reason: "battery is low"})
	}

	if len(vetoes) > 0 {
		reasons := make([]string, len(vetoes))
		for i, v := range vetoes {
			reasons[i] = v.Reason
		}
		return GateDecision{
			Action:      ActionSkip,
			Reason:      "preconditions not met: " + strings.Join(reasons, "; "),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}
	return GateDecision{Action: ActionRun, Reason: "preconditions met"}
}
// #endregion device-gate
