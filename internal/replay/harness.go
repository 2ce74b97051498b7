package replay

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/diary"
	"github.com/danielpatrickdp/edge-companion/internal/eval"
	"github.com/danielpatrickdp/edge-companion/internal/gate"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region types

// Step actions.
const (
	ActionApply        = "apply"
	ActionDefer        = "defer"
	ActionSkip         = "skip"
	ActionConsolidate  = "consolidate"
	ActionEvalRollback = "eval_rollback"
)

// Interaction is one recorded reaction and the reward it earned.
type Interaction struct {
	StepID     string
	Action     int
	Reward     float64
	Confidence float64
	At         time.Time
}

// ReplayConfig bundles the bandit, gate and eval configs for a replay run.
type ReplayConfig struct {
	BanditConfig     bandit.Config
	GateConfig       gate.ConfidenceConfig
	EvalConfig       eval.EvalConfig
	DiaryConfig      diary.Config
	ConsolidateEvery int // consolidate after this many interactions; 0 only at the end
}

// DefaultReplayConfig returns production thresholds with a final consolidation only.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		BanditConfig: bandit.DefaultConfig(),
		GateConfig:   gate.DefaultConfidenceConfig(),
		EvalConfig:   eval.DefaultEvalConfig(),
		DiaryConfig:  diary.DefaultConfig(),
	}
}

// ReplayResult captures what happened at one step. Consolidations are steps of
// their own with StepID "consolidate-N".
type ReplayResult struct {
	StepID       string
	Action       string
	Reason       string
	Expectation  float64 // expectation of the step's arm after the step
	Version      int64
	GateDecision *gate.GateDecision
	EvalResult   *eval.EvalResult
	Diary        *state.DiaryEntry
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalSteps     int
	Applied        int
	Deferred       int
	Skipped        int
	Consolidations int
	EvalRollbacks  int
	FinalProfile   state.UserProfile
}

// #endregion types

// #region replay

// Replay runs interactions through the realtime gate, the bandit update and
// periodic consolidation entirely in memory. It returns the per-step results and
// the final profile. Bandit updates never sample, so replay is deterministic.
func Replay(start state.UserProfile, interactions []Interaction, config ReplayConfig) ([]ReplayResult, state.UserProfile) {
	b := bandit.New(config.BanditConfig, bandit.NewSeededSampler(0), bandit.WithClock(func() time.Time { return time.Time{} }))
	confidence := gate.NewConfidenceGate(config.GateConfig)
	harness := eval.NewEvalHarness(config.EvalConfig)

	current := start.Sanitize()
	var pending []state.InteractionLog
	var results []ReplayResult
	consolidations := 0

	consolidate := func(at time.Time) {
		consolidations++
		id := fmt.Sprintf("consolidate-%d", consolidations)
		rewards := make(map[int][]float64)
		for _, l := range pending {
			if confidence.AllowBatch(l.RewardConfidence) {
				rewards[l.ActionIndex] = append(rewards[l.ActionIndex], l.RewardScore)
			}
		}
		after := b.Consolidate(current, rewards)
		res := harness.Run(current, after)
		if !res.Passed {
			results = append(results, ReplayResult{
				StepID:     id,
				Action:     ActionEvalRollback,
				Reason:     res.Reason,
				Version:    current.Version,
				EvalResult: &res,
			})
			return
		}
		entry := config.DiaryConfig.Compose(pending, current, after, at)
		current = after
		pending = nil
		results = append(results, ReplayResult{
			StepID:     id,
			Action:     ActionConsolidate,
			Reason:     res.Reason,
			Version:    current.Version,
			EvalResult: &res,
			Diary:      &entry,
		})
	}

	var last time.Time
	for i, inter := range interactions {
		last = inter.At
		if inter.Action < 0 || inter.Action >= state.NumActions {
			results = append(results, ReplayResult{
				StepID:  inter.StepID,
				Action:  ActionSkip,
				Reason:  fmt.Sprintf("unknown action %d", inter.Action),
				Version: current.Version,
			})
			continue
		}

		pending = append(pending, state.InteractionLog{
			ID:               inter.StepID,
			CreatedAt:        inter.At,
			ActionIndex:      inter.Action,
			RewardScore:      inter.Reward,
			RewardConfidence: inter.Confidence,
		})

		decision := confidence.EvaluateRealtime(inter.Confidence)
		action := ActionDefer
		if decision.Action == gate.ActionApply {
			current = b.UpdateFromReward(current, inter.Action, inter.Reward)
			action = ActionApply
		}
		results = append(results, ReplayResult{
			StepID:       inter.StepID,
			Action:       action,
			Reason:       decision.Reason,
			Expectation:  current.Expectation(inter.Action),
			Version:      current.Version,
			GateDecision: &decision,
		})

		if config.ConsolidateEvery > 0 && (i+1)%config.ConsolidateEvery == 0 {
			consolidate(inter.At)
		}
	}
	if len(pending) > 0 {
		consolidate(last)
	}
	return results, current
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final state.UserProfile) ReplaySummary {
	s := ReplaySummary{FinalProfile: final}
	for _, r := range results {
		switch r.Action {
		case ActionApply:
			s.Applied++
		case ActionDefer:
			s.Deferred++
		case ActionSkip:
			s.Skipped++
		case ActionConsolidate:
			s.Consolidations++
			continue
		case ActionEvalRollback:
			s.EvalRollbacks++
			continue
		}
		s.TotalSteps++
	}
	return s
}

// #endregion replay
