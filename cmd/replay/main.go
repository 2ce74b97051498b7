package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/edge-companion/internal/replay"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	verbose := flag.Bool("v", false, "print gate and eval reasons per step")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [-v]")
		os.Exit(2)
	}
	os.Exit(runFixture(*fixturePath, *verbose))
}

// #endregion main

// #region output

func runFixture(path string, verbose bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	if f.Description != "" {
		fmt.Printf("%s\n\n", f.Description)
	}

	results, final := f.Run()
	expected := make(map[string]string, len(f.ExpectedResults))
	for _, e := range f.ExpectedResults {
		expected[e.StepID] = e.Action
	}

	fmt.Printf("%-28s| %-14s| %-14s| %-8s| %s\n", "Step", "Expected", "Replayed", "Version", "Match")
	fmt.Printf("%-28s+%-15s+%-15s+%-9s+%s\n",
		"----------------------------", "---------------", "---------------", "---------", "------")
	for _, r := range results {
		exp, ok := expected[r.StepID]
		match := "-"
		switch {
		case !ok:
			exp = "-"
		case exp == r.Action:
			match = "OK"
		default:
			match = "DIFF"
		}
		fmt.Printf("%-28s| %-14s| %-14s| %-8d| %s\n", r.StepID, exp, r.Action, r.Version, match)
		if verbose && r.Reason != "" {
			fmt.Printf("%-28s  %s\n", "", r.Reason)
		}
	}

	s := replay.Summarize(results, final)
	fmt.Printf("\nSummary: %d steps, %d applied, %d deferred, %d skipped, %d consolidations, %d eval rollbacks\n",
		s.TotalSteps, s.Applied, s.Deferred, s.Skipped, s.Consolidations, s.EvalRollbacks)
	fmt.Printf("Final profile: version %d\n", final.Version)
	for i, name := range state.ActionNames() {
		fmt.Printf("  %-14s %.4f\n", name, final.Expectation(i))
	}

	mismatches := f.Verify(results, final)
	if len(mismatches) == 0 {
		return 0
	}
	fmt.Printf("\n%d mismatches:\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}
	return 1
}

// #endregion output
