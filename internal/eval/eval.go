package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region eval-harness
// EvalHarness validates a consolidated profile against the invariants the
// bandit promises, before the store commits it.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run compares the proposed profile with the one it was derived from.
func (h *EvalHarness) Run(before, after state.UserProfile) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Shape
	shapeOK := len(after.Alpha) == state.NumActions && len(after.Beta) == state.NumActions
	check("arm_count", float64(len(after.Alpha)), shapeOK,
		fmt.Sprintf("expected %d arms, got alpha=%d beta=%d", state.NumActions, len(after.Alpha), len(after.Beta)))
	if !shapeOK {
		return result(metrics, failReasons)
	}

	// 2. Floors and cap per arm
	minParam := math.Inf(1)
	maxSum := 0.0
	for i := 0; i < state.NumActions; i++ {
		a, b := after.Alpha[i], after.Beta[i]
		if math.IsNaN(a) || math.IsNaN(b) {
			check(fmt.Sprintf("arm_%d_finite", i), math.NaN(), false, fmt.Sprintf("arm %d has NaN parameters", i))
			continue
		}
		minParam = math.Min(minParam, math.Min(a, b))
		maxSum = math.Max(maxSum, a+b)
	}
	check("min_parameter", minParam, minParam >= h.config.MinParameter,
		fmt.Sprintf("parameter %.6f below floor %.4f", minParam, h.config.MinParameter))
	check("max_parameter_sum", maxSum, maxSum <= h.config.MaxParameterSum+h.config.Tolerance,
		fmt.Sprintf("alpha+beta %.6f exceeds cap %.2f", maxSum, h.config.MaxParameterSum))

	// 3. Version advances by exactly one
	step := after.Version - before.Version
	check("version_step", float64(step), step == 1,
		fmt.Sprintf("version moved %d -> %d", before.Version, after.Version))

	// 4. Expectation shift: informational only
	shift := 0.0
	for i := 0; i < state.NumActions; i++ {
		shift = math.Max(shift, math.Abs(after.Expectation(i)-before.Expectation(i)))
	}
	metrics = append(metrics, EvalMetric{
		Name:  "max_expectation_shift",
		Value: shift,
		Pass:  shift <= h.config.MaxExpectationShift,
	})

	return result(metrics, failReasons)
}

func result(metrics []EvalMetric, failReasons []string) EvalResult {
	if len(failReasons) == 0 {
		return EvalResult{Passed: true, Metrics: metrics, Reason: "all checks passed"}
	}
	reason := fmt.Sprintf("eval failed: %s", failReasons[0])
	if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}
	return EvalResult{Passed: false, Metrics: metrics, Reason: reason}
}

// #endregion eval-harness
