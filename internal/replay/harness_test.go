package replay

import (
	"math"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

var day = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func freshProfile() state.UserProfile {
	return state.DefaultProfile(state.DefaultUserID, day)
}

// helper: one interaction on action with the given reward and confidence.
func step(id string, action state.Action, reward, confidence float64, offset time.Duration) Interaction {
	return Interaction{
		StepID:     id,
		Action:     int(action),
		Reward:     reward,
		Confidence: confidence,
		At:         day.Add(offset),
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// 1. A confident reward applies immediately and the final consolidation folds it in again.
func TestReplay_ApplyThenConsolidate(t *testing.T) {
	results, final := Replay(freshProfile(), []Interaction{step("s1", state.Humor, 0.5, 0.9, 0)}, DefaultReplayConfig())

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Action != ActionApply {
		t.Errorf("expected apply, got %s (%s)", results[0].Action, results[0].Reason)
	}
	if !approx(results[0].Expectation, 1.5/2.5) {
		t.Errorf("expectation after apply: got %f", results[0].Expectation)
	}
	if results[0].Version != 1 {
		t.Errorf("realtime update must not bump version, got %d", results[0].Version)
	}
	if results[1].StepID != "consolidate-1" || results[1].Action != ActionConsolidate {
		t.Errorf("expected consolidate-1/consolidate, got %s/%s", results[1].StepID, results[1].Action)
	}
	if final.Version != 2 {
		t.Errorf("expected version 2, got %d", final.Version)
	}
	if !approx(final.Alpha[int(state.Humor)], 2.0) {
		t.Errorf("expected humor alpha 2.0, got %f", final.Alpha[int(state.Humor)])
	}
	if final.TotalInteractions != 1 || final.TotalConsolidations != 1 {
		t.Errorf("counters: interactions=%d consolidations=%d", final.TotalInteractions, final.TotalConsolidations)
	}
}

// 2. Low confidence defers; the batch threshold decides whether consolidation uses it.
func TestReplay_DeferredReachesBatchOnly(t *testing.T) {
	interactions := []Interaction{
		step("s1", state.Calm, 1.0, 0.25, 0),
		step("s2", state.Curiosity, 1.0, 0.1, time.Hour),
	}
	results, final := Replay(freshProfile(), interactions, DefaultReplayConfig())

	for _, r := range results[:2] {
		if r.Action != ActionDefer {
			t.Errorf("%s: expected defer, got %s", r.StepID, r.Action)
		}
		if r.GateDecision == nil {
			t.Errorf("%s: missing gate decision", r.StepID)
		}
	}
	if !approx(final.Alpha[int(state.Calm)], 2.0) {
		t.Errorf("calm alpha: got %f", final.Alpha[int(state.Calm)])
	}
	if !approx(final.Alpha[int(state.Curiosity)], 1.0) {
		t.Errorf("curiosity must be untouched, got alpha %f", final.Alpha[int(state.Curiosity)])
	}
	if final.TotalInteractions != 0 {
		t.Errorf("deferred steps do not count as realtime interactions, got %d", final.TotalInteractions)
	}
}

// 3. Unknown actions are skipped and never reach the pending batch.
func TestReplay_UnknownActionSkipped(t *testing.T) {
	results, final := Replay(freshProfile(), []Interaction{{StepID: "bad", Action: 12, Reward: 1, Confidence: 1, At: day}}, DefaultReplayConfig())

	if len(results) != 1 {
		t.Fatalf("expected only the skip result, got %d", len(results))
	}
	if results[0].Action != ActionSkip {
		t.Errorf("expected skip, got %s", results[0].Action)
	}
	if final.Version != 1 {
		t.Errorf("nothing pending, no consolidation expected; version=%d", final.Version)
	}
}

// 4. A consolidation the harness rejects leaves the profile and the batch in place.
func TestReplay_EvalRollback(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.EvalConfig.MaxParameterSum = 2.5

	results, final := Replay(freshProfile(), []Interaction{step("s1", state.Excitement, 1.0, 0.25, 0)}, cfg)

	last := results[len(results)-1]
	if last.Action != ActionEvalRollback {
		t.Fatalf("expected eval_rollback, got %s", last.Action)
	}
	if last.EvalResult == nil || last.EvalResult.Passed {
		t.Error("expected a failing eval result")
	}
	if last.Diary != nil {
		t.Error("rolled back consolidation must not write a diary")
	}
	if final.Version != 1 || !approx(final.Alpha[int(state.Excitement)], 1.0) {
		t.Errorf("profile changed despite rollback: version=%d alpha=%f", final.Version, final.Alpha[int(state.Excitement)])
	}
}

// 5. ConsolidateEvery inserts a consolidation step after every N interactions.
func TestReplay_PeriodicConsolidation(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.ConsolidateEvery = 2

	var interactions []Interaction
	for i, a := range []state.Action{state.Empathy, state.Humor, state.Surprise, state.Calm, state.Concern} {
		interactions = append(interactions, step(string(rune('a'+i)), a, 0.5, 0.9, time.Duration(i)*time.Hour))
	}
	results, final := Replay(freshProfile(), interactions, cfg)

	want := []string{"a", "b", "consolidate-1", "c", "d", "consolidate-2", "e", "consolidate-3"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, id := range want {
		if results[i].StepID != id {
			t.Errorf("result %d: expected %s, got %s", i, id, results[i].StepID)
		}
	}
	if final.Version != 4 {
		t.Errorf("expected version 4 after three consolidations, got %d", final.Version)
	}
	d := results[2].Diary
	if d == nil {
		t.Fatal("consolidation step must carry its diary entry")
	}
	if d.TotalInteractions != 2 || d.ProfileVersionBefore != 1 || d.ProfileVersionAfter != 2 {
		t.Errorf("diary: total=%d versions %d->%d", d.TotalInteractions, d.ProfileVersionBefore, d.ProfileVersionAfter)
	}
}

// 6. Summarize counts interaction steps separately from consolidations.
func TestReplay_Summarize(t *testing.T) {
	results := []ReplayResult{
		{Action: ActionApply},
		{Action: ActionApply},
		{Action: ActionDefer},
		{Action: ActionSkip},
		{Action: ActionConsolidate},
		{Action: ActionEvalRollback},
	}
	s := Summarize(results, freshProfile())

	if s.TotalSteps != 4 {
		t.Errorf("TotalSteps: expected 4, got %d", s.TotalSteps)
	}
	if s.Applied != 2 || s.Deferred != 1 || s.Skipped != 1 {
		t.Errorf("applied=%d deferred=%d skipped=%d", s.Applied, s.Deferred, s.Skipped)
	}
	if s.Consolidations != 1 || s.EvalRollbacks != 1 {
		t.Errorf("consolidations=%d rollbacks=%d", s.Consolidations, s.EvalRollbacks)
	}
}

// 7. Same input twice gives the same output.
func TestReplay_Deterministic(t *testing.T) {
	interactions := []Interaction{
		step("s1", state.Humor, 0.8, 0.9, 0),
		step("s2", state.Concern, -0.4, 0.5, time.Hour),
		step("s3", state.Humor, 0.3, 0.2, 2*time.Hour),
	}
	cfg := DefaultReplayConfig()
	cfg.ConsolidateEvery = 2

	r1, f1 := Replay(freshProfile(), interactions, cfg)
	r2, f2 := Replay(freshProfile(), interactions, cfg)

	if len(r1) != len(r2) {
		t.Fatalf("length mismatch: %d vs %d", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i].Action != r2[i].Action || r1[i].Expectation != r2[i].Expectation {
			t.Errorf("step %d differs", i)
		}
	}
	for i := 0; i < state.NumActions; i++ {
		if f1.Alpha[i] != f2.Alpha[i] || f1.Beta[i] != f2.Beta[i] {
			t.Errorf("arm %d differs", i)
		}
	}
}
