package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	StartProfile    FixtureProfile          `json:"start_profile"`
	Config          FixtureConfig           `json:"config"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results,omitempty"`
	ExpectedFinal   *FixtureExpectedFinal   `json:"expected_final,omitempty"`
}

// FixtureProfile is the JSON form of the starting profile. Empty arrays mean a
// fresh Beta(1,1) profile.
type FixtureProfile struct {
	Version int64     `json:"version"`
	Alpha   []float64 `json:"alpha,omitempty"`
	Beta    []float64 `json:"beta,omitempty"`
}

// FixtureInteraction is one step. Action is the name, e.g. "HUMOR".
type FixtureInteraction struct {
	StepID     string    `json:"step_id"`
	Action     string    `json:"action"`
	Reward     float64   `json:"reward"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// FixtureExpectedResult captures the expected action per step.
type FixtureExpectedResult struct {
	StepID string `json:"step_id"`
	Action string `json:"action"`
}

// FixtureExpectedFinal pins the final profile.
type FixtureExpectedFinal struct {
	Version      int64              `json:"version"`
	Expectations map[string]float64 `json:"expectations"`
	Tolerance    float64            `json:"tolerance"`
}

// FixtureConfig holds the thresholds of a replay run. Zero values fall back to
// the production defaults.
type FixtureConfig struct {
	RealtimeThreshold float64 `json:"realtime_threshold"`
	BatchThreshold    float64 `json:"batch_threshold"`
	MaxParameterSum   float64 `json:"max_parameter_sum"`
	ConsolidateEvery  int     `json:"consolidate_every"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToProfile converts the start profile to a domain profile.
func (p *FixtureProfile) ToProfile() state.UserProfile {
	out := state.DefaultProfile(state.DefaultUserID, time.Time{})
	if p.Version > 0 {
		out.Version = p.Version
	}
	if len(p.Alpha) > 0 {
		out.Alpha = append([]float64(nil), p.Alpha...)
	}
	if len(p.Beta) > 0 {
		out.Beta = append([]float64(nil), p.Beta...)
	}
	return out.Sanitize()
}

// ToInteraction converts a step. Unknown action names map to -1 and are skipped by Replay.
func (fi *FixtureInteraction) ToInteraction() Interaction {
	idx := -1
	if a, ok := state.ParseAction(fi.Action); ok {
		idx = int(a)
	}
	return Interaction{
		StepID:     fi.StepID,
		Action:     idx,
		Reward:     fi.Reward,
		Confidence: fi.Confidence,
		At:         fi.At,
	}
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.RealtimeThreshold > 0 {
		cfg.GateConfig.RealtimeThreshold = fc.RealtimeThreshold
	}
	if fc.BatchThreshold > 0 {
		cfg.GateConfig.BatchThreshold = fc.BatchThreshold
	}
	if fc.MaxParameterSum > 0 {
		cfg.BanditConfig.MaxParameterSum = fc.MaxParameterSum
		cfg.EvalConfig.MaxParameterSum = fc.MaxParameterSum
	}
	cfg.ConsolidateEvery = fc.ConsolidateEvery
	return cfg
}

// ToInteractions converts every step.
func (f *Fixture) ToInteractions() []Interaction {
	out := make([]Interaction, len(f.Interactions))
	for i := range f.Interactions {
		out[i] = f.Interactions[i].ToInteraction()
	}
	return out
}

// Run replays the fixture.
func (f *Fixture) Run() ([]ReplayResult, state.UserProfile) {
	return Replay(f.StartProfile.ToProfile(), f.ToInteractions(), f.Config.ToReplayConfig())
}

// #endregion fixture-loader

// #region verify

// Mismatch is one difference between a replay and the fixture's expectations.
type Mismatch struct {
	StepID string
	Want   string
	Got    string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.StepID, m.Want, m.Got)
}

// Verify compares results and the final profile with the fixture's expectations.
func (f *Fixture) Verify(results []ReplayResult, final state.UserProfile) []Mismatch {
	var out []Mismatch
	byStep := make(map[string]ReplayResult, len(results))
	for _, r := range results {
		byStep[r.StepID] = r
	}
	for _, exp := range f.ExpectedResults {
		got, ok := byStep[exp.StepID]
		if !ok {
			out = append(out, Mismatch{StepID: exp.StepID, Want: exp.Action, Got: "missing"})
			continue
		}
		if got.Action != exp.Action {
			out = append(out, Mismatch{StepID: exp.StepID, Want: exp.Action, Got: got.Action})
		}
	}

	if ef := f.ExpectedFinal; ef != nil {
		if ef.Version > 0 && ef.Version != final.Version {
			out = append(out, Mismatch{StepID: "final.version", Want: fmt.Sprint(ef.Version), Got: fmt.Sprint(final.Version)})
		}
		tol := ef.Tolerance
		if tol <= 0 {
			tol = 1e-3
		}
		for name, want := range ef.Expectations {
			a, ok := state.ParseAction(name)
			if !ok {
				out = append(out, Mismatch{StepID: "final." + name, Want: fmt.Sprintf("%.4f", want), Got: "unknown action"})
				continue
			}
			if got := final.Expectation(int(a)); math.Abs(got-want) > tol {
				out = append(out, Mismatch{StepID: "final." + name, Want: fmt.Sprintf("%.4f", want), Got: fmt.Sprintf("%.4f", got)})
			}
		}
	}
	return out
}

// #endregion verify

// #region export

// FixtureFromLogs builds a fixture from a stored profile and its pending logs,
// recording the actions a replay produces today as the expected results.
func FixtureFromLogs(description string, start state.UserProfile, logs []state.InteractionLog, cfg FixtureConfig) *Fixture {
	f := &Fixture{
		Description:  description,
		StartProfile: FixtureProfile{Version: start.Version, Alpha: start.Alpha, Beta: start.Beta},
		Config:       cfg,
	}
	for _, l := range logs {
		f.Interactions = append(f.Interactions, FixtureInteraction{
			StepID:     l.ID,
			Action:     state.Action(l.ActionIndex).String(),
			Reward:     l.RewardScore,
			Confidence: l.RewardConfidence,
			At:         l.CreatedAt,
		})
	}
	results, final := f.Run()
	for _, r := range results {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{StepID: r.StepID, Action: r.Action})
	}
	f.ExpectedFinal = &FixtureExpectedFinal{
		Version:      final.Version,
		Expectations: make(map[string]float64, state.NumActions),
		Tolerance:    1e-6,
	}
	for i, name := range state.ActionNames() {
		f.ExpectedFinal.Expectations[name] = final.Expectation(i)
	}
	return f
}

// #endregion export
