package eval

// #region eval-config
// EvalConfig holds thresholds for validating a consolidated profile before it is persisted.
type EvalConfig struct {
	MaxParameterSum     float64 // reject if any alpha+beta exceeds this (plus Tolerance)
	MinParameter        float64 // reject if any alpha or beta falls below this
	Tolerance           float64 // floating-point slack for the cap check
	MaxExpectationShift float64 // informational: flag arms whose expectation moved more than this
}

// DefaultEvalConfig returns the production bounds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxParameterSum:     100,
		MinParameter:        0.01,
		Tolerance:           1e-9,
		MaxExpectationShift: 0.25,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of profile validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
