package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoLowConfidence VetoType = "low_confidence"
	VetoNotCharging   VetoType = "not_charging"
	VetoMetered       VetoType = "metered_network"
	VetoBatteryLow    VetoType = "battery_low"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// ConfidenceConfig holds the confidence thresholds for the two learning paths.
type ConfidenceConfig struct {
	RealtimeThreshold float64 // profile is updated immediately at or above this
	BatchThreshold    float64 // consolidation ignores logs below this
}

// DefaultConfidenceConfig returns the production thresholds.
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		RealtimeThreshold: 0.3,
		BatchThreshold:    0.2,
	}
}

// DeviceConfig selects which device preconditions consolidation requires.
type DeviceConfig struct {
	RequireCharging      bool
	RequireUnmetered     bool
	RequireBatteryNotLow bool
}

// DefaultDeviceConfig requires all three preconditions.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		RequireCharging:      true,
		RequireUnmetered:     true,
		RequireBatteryNotLow: true,
	}
}

// #endregion gate-config

// #region gate-decision
const (
	ActionApply = "apply"
	ActionDefer = "defer"
	ActionRun   = "run"
	ActionSkip  = "skip"
)

// GateDecision is the output of a gate evaluation.
type GateDecision struct {
	Action      string // "apply" | "defer" for confidence, "run" | "skip" for device
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
}

// #endregion gate-decision
