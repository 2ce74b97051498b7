package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region fixture-tests

// TestFixture_TwoDays is the regression test for gate thresholds and bandit
// arithmetic: any drift in either changes a step action or a final expectation.
func TestFixture_TwoDays(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "two_days.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, final := f.Run()
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for i, expected := range f.ExpectedResults {
		if results[i].StepID != expected.StepID {
			t.Errorf("step %d: expected step_id=%s, got %s", i, expected.StepID, results[i].StepID)
		}
	}
	for _, m := range f.Verify(results, final) {
		t.Errorf("mismatch %s", m)
	}

	s := Summarize(results, final)
	if s.TotalSteps != 6 || s.Applied != 3 || s.Deferred != 2 || s.Skipped != 1 || s.Consolidations != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

// TestFixture_VerifyReportsDrift checks that Verify reports wrong actions,
// missing steps and final profile drift.
func TestFixture_VerifyReportsDrift(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "two_days.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	f.ExpectedResults[0].Action = ActionDefer
	f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{StepID: "s99", Action: ActionApply})
	f.ExpectedFinal.Version = 7
	f.ExpectedFinal.Expectations["HUMOR"] = 0.5

	results, final := f.Run()
	mismatches := f.Verify(results, final)

	got := make(map[string]bool, len(mismatches))
	for _, m := range mismatches {
		got[m.StepID] = true
	}
	for _, want := range []string{"s1", "s99", "final.version", "final.HUMOR"} {
		if !got[want] {
			t.Errorf("expected a mismatch for %s, got %v", want, mismatches)
		}
	}
	if len(mismatches) != 4 {
		t.Errorf("expected 4 mismatches, got %d: %v", len(mismatches), mismatches)
	}
}

// TestFixture_ExportRoundTrip exports pending logs as a fixture, saves it and
// checks the reloaded fixture verifies cleanly against itself.
func TestFixture_ExportRoundTrip(t *testing.T) {
	start := state.DefaultProfile(state.DefaultUserID, time.Time{})
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	logs := []state.InteractionLog{
		{ID: "01A", CreatedAt: base, ActionIndex: int(state.Surprise), RewardScore: 0.7, RewardConfidence: 0.8},
		{ID: "01B", CreatedAt: base.Add(time.Hour), ActionIndex: int(state.Calm), RewardScore: -0.3, RewardConfidence: 0.22},
	}

	f := FixtureFromLogs("export", start, logs, FixtureConfig{})
	if len(f.Interactions) != 2 || f.Interactions[0].Action != "SURPRISE" {
		t.Fatalf("unexpected interactions: %+v", f.Interactions)
	}
	if f.ExpectedFinal == nil || f.ExpectedFinal.Version != 2 {
		t.Fatalf("expected final version 2, got %+v", f.ExpectedFinal)
	}

	path := filepath.Join(t.TempDir(), "export.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	results, final := loaded.Run()
	if m := loaded.Verify(results, final); len(m) != 0 {
		t.Errorf("exported fixture does not verify: %v", m)
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests
