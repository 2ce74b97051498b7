package diary

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region config
// Config holds the thresholds that shape the narrative.
type Config struct {
	MinObservations  int     // an action needs this many logs to be ranked best or worst
	WorstRateCeiling float64 // worst is only called out below this success rate
	SignificantDelta float64 // expectation change that makes the changes section
	CheerfulMean     float64 // mean reward above this gets the cheerful closing
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinObservations:  2,
		WorstRateCeiling: 0.4,
		SignificantDelta: 0.01,
		CheerfulMean:     0.3,
	}
}
// #endregion config

// #region types
// ActionStats summarizes the logs of one action.
type ActionStats struct {
	Action      state.Action
	Count       int
	MeanReward  float64
	SuccessRate float64 // share of logs with reward > 0
}

// Change is the expectation of one arm before and after consolidation.
type Change struct {
	Action state.Action
	Before float64
	After  float64
}

// Delta is After - Before.
func (c Change) Delta() float64 { return c.After - c.Before }
// #endregion types

// #region compose
// Compose builds the diary entry for one consolidation run with the default thresholds.
func Compose(logs []state.InteractionLog, before, after state.UserProfile, at time.Time) state.DiaryEntry {
	return DefaultConfig().Compose(logs, before, after, at)
}

// Compose builds the diary entry for one consolidation run. It is pure: the
// same inputs always produce the same entry (ID is left for the store).
func (c Config) Compose(logs []state.InteractionLog, before, after state.UserProfile, at time.Time) state.DiaryEntry {
	stats := Stats(logs)
	changes := Changes(before, after)

	entry := state.DiaryEntry{
		Date:                 at.Format(state.DiaryDateLayout),
		CreatedAt:            at,
		TotalInteractions:    len(logs),
		PersonalityChanges:   SerializeChanges(changes),
		ProfileVersionBefore: before.Version,
		ProfileVersionAfter:  after.Version,
	}

	// Without a ranked action the entry still names one; the rate stays 0.
	entry.TopAction = state.Calm.String()
	best, worst := c.rank(stats)
	if best != nil {
		entry.TopAction = best.Action.String()
		entry.TopSuccessRate = best.SuccessRate
	}
	if worst != nil {
		entry.WorstAction = worst.Action.String()
		entry.WorstSuccessRate = worst.SuccessRate
	}

	entry.DiaryText = c.narrative(logs, best, worst, c.significant(changes))
	return entry
}

// Stats groups logs by action, in action order. Unknown action indices are skipped.
func Stats(logs []state.InteractionLog) []ActionStats {
	var counts, positives [state.NumActions]int
	var sums [state.NumActions]float64
	for _, l := range logs {
		if l.ActionIndex < 0 || l.ActionIndex >= state.NumActions {
			continue
		}
		counts[l.ActionIndex]++
		sums[l.ActionIndex] += l.RewardScore
		if l.RewardScore > 0 {
			positives[l.ActionIndex]++
		}
	}
	var out []ActionStats
	for i := 0; i < state.NumActions; i++ {
		if counts[i] == 0 {
			continue
		}
		out = append(out, ActionStats{
			Action:      state.Action(i),
			Count:       counts[i],
			MeanReward:  sums[i] / float64(counts[i]),
			SuccessRate: float64(positives[i]) / float64(counts[i]),
		})
	}
	return out
}

// Changes pairs the before and after expectation of every arm.
func Changes(before, after state.UserProfile) []Change {
	out := make([]Change, state.NumActions)
	for i := range out {
		out[i] = Change{Action: state.Action(i), Before: before.Expectation(i), After: after.Expectation(i)}
	}
	return out
}

// SerializeChanges renders changes as NAME:before,after joined by ';'.
func SerializeChanges(changes []Change) string {
	parts := make([]string, len(changes))
	for i, ch := range changes {
		parts[i] = fmt.Sprintf("%s:%.3f,%.3f", ch.Action, ch.Before, ch.After)
	}
	return strings.Join(parts, ";")
}

func (c Config) rank(stats []ActionStats) (best, worst *ActionStats) {
	for i := range stats {
		s := &stats[i]
		if s.Count < c.MinObservations {
			continue
		}
		if best == nil || s.SuccessRate > best.SuccessRate {
			best = s
		}
		if worst == nil || s.SuccessRate < worst.SuccessRate {
			worst = s
		}
	}
	if worst != nil && (worst == best || worst.SuccessRate >= c.WorstRateCeiling) {
		worst = nil
	}
	return best, worst
}

func (c Config) significant(changes []Change) []Change {
	var out []Change
	for _, ch := range changes {
		if math.Abs(ch.Delta()) > c.SignificantDelta {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Delta()) > math.Abs(out[j].Delta())
	})
	return out
}
// #endregion compose

// #region narrative
func (c Config) narrative(logs []state.InteractionLog, best, worst *ActionStats, changes []Change) string {
	var b strings.Builder

	if len(logs) == 0 {
		b.WriteString("No interactions today.\n\n")
		b.WriteString("Hopefully we get to spend more time together tomorrow.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Today we interacted %d times.\n", len(logs))
	if best != nil {
		fmt.Fprintf(&b, "You responded best to %s (%d%% positive over %d reactions).\n",
			best.Action.Label(), percent(best.SuccessRate), best.Count)
	}
	if worst != nil {
		fmt.Fprintf(&b, "%s missed the mark (%d%% positive), so I will use it more gently.\n",
			worst.Action.Label(), percent(worst.SuccessRate))
	}

	b.WriteString("\n--- Personality changes ---\n\n")
	if len(changes) == 0 {
		b.WriteString("No notable personality change today.\n")
	}
	for _, ch := range changes {
		fmt.Fprintf(&b, "- %-13s %s %.2f %s (%+.3f)\n",
			ch.Action.Label(), Bar(ch.After), ch.After, Arrow(ch.Delta()), ch.Delta())
	}

	b.WriteString("\n")
	b.WriteString(c.closing(logs))
	b.WriteString("\n")
	return b.String()
}

func (c Config) closing(logs []state.InteractionLog) string {
	var sum float64
	for _, l := range logs {
		sum += l.RewardScore
	}
	mean := sum / float64(len(logs))
	switch {
	case mean > c.CheerfulMean:
		return "Thanks for all the smiles today. See you tomorrow!"
	case mean > 0:
		return "I am still learning what makes you happy. I will keep trying tomorrow."
	default:
		return "Today was a little hard, but I am learning bit by bit. Let's try again tomorrow."
	}
}

// Bar renders value in [0,1] as ten cells.
func Bar(value float64) string {
	filled := int(value * 10)
	if filled < 0 || math.IsNaN(value) {
		filled = 0
	}
	if filled > 10 {
		filled = 10
	}
	return strings.Repeat("■", filled) + strings.Repeat("□", 10-filled)
}

// Arrow maps an expectation delta to a trend glyph.
func Arrow(delta float64) string {
	switch {
	case delta > 0.05:
		return "↑"
	case delta < -0.05:
		return "↓"
	case delta > 0:
		return "↗"
	case delta < 0:
		return "↘"
	default:
		return "→"
	}
}

func percent(rate float64) int {
	return int(math.Round(rate * 100))
}
// #endregion narrative
