package diary

import (
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

func logsFor(action state.Action, rewards ...float64) []state.InteractionLog {
	out := make([]state.InteractionLog, len(rewards))
	for i, r := range rewards {
		out[i] = state.InteractionLog{ActionIndex: int(action), RewardScore: r, RewardConfidence: 1}
	}
	return out
}

func profiles() (state.UserProfile, state.UserProfile) {
	before := state.DefaultProfile("u", at)
	after := before.Clone()
	after.Version++
	return before, after
}

func TestComposeEmpty(t *testing.T) {
	before, after := profiles()
	e := Compose(nil, before, after, at)

	assert.Equal(t, 0, e.TotalInteractions)
	assert.Contains(t, e.DiaryText, "No interactions today")
	assert.Equal(t, "2026-03-01", e.Date)
	assert.Equal(t, "CALM", e.TopAction)
	assert.Equal(t, 0.0, e.TopSuccessRate)
	assert.Equal(t, int64(1), e.ProfileVersionBefore)
	assert.Equal(t, int64(2), e.ProfileVersionAfter)
	assert.Equal(t, 8, strings.Count(e.PersonalityChanges, ":"))
}

func TestComposeBestAndWorst(t *testing.T) {
	before, after := profiles()
	after.Alpha[int(state.Humor)] = 5
	after.Beta[int(state.Concern)] = 5

	var logs []state.InteractionLog
	logs = append(logs, logsFor(state.Humor, 0.9, 0.7, 0.8, 0.6)...)
	logs = append(logs, logsFor(state.Concern, -0.5, -0.4, -0.6, -0.2)...)
	logs = append(logs, logsFor(state.Curiosity, 1)...) // single observation, never ranked

	e := Compose(logs, before, after, at)
	assert.Equal(t, 9, e.TotalInteractions)
	assert.Equal(t, "HUMOR", e.TopAction)
	assert.Equal(t, 1.0, e.TopSuccessRate)
	assert.Equal(t, "CONCERN", e.WorstAction)
	assert.Equal(t, 0.0, e.WorstSuccessRate)
	assert.Contains(t, e.DiaryText, "Today we interacted 9 times.")
	assert.Contains(t, e.DiaryText, "Humor (100% positive over 4 reactions)")
	assert.Contains(t, e.DiaryText, "Concern missed the mark")
	assert.Contains(t, e.DiaryText, "--- Personality changes ---")
}

func TestComposeWorstOnlyBelowCeiling(t *testing.T) {
	before, after := profiles()
	var logs []state.InteractionLog
	logs = append(logs, logsFor(state.Humor, 1, 1)...)
	logs = append(logs, logsFor(state.Calm, 1, -1)...) // 50%, not called out

	e := Compose(logs, before, after, at)
	assert.Equal(t, "HUMOR", e.TopAction)
	assert.Equal(t, "", e.WorstAction)
}

func TestComposeUnrankedTopActionIsCalm(t *testing.T) {
	before, after := profiles()
	var logs []state.InteractionLog
	logs = append(logs, logsFor(state.Humor, 1)...)
	logs = append(logs, logsFor(state.Surprise, 1)...)

	e := Compose(logs, before, after, at)
	assert.Equal(t, 2, e.TotalInteractions)
	assert.Equal(t, "CALM", e.TopAction, "single observations never rank")
	assert.Equal(t, 0.0, e.TopSuccessRate)
	assert.Equal(t, "", e.WorstAction)
	assert.NotContains(t, e.DiaryText, "Humor (")
}

func TestComposeSingleRankedActionHasNoWorst(t *testing.T) {
	before, after := profiles()
	e := Compose(logsFor(state.Calm, -1, -1), before, after, at)
	assert.Equal(t, "CALM", e.TopAction)
	assert.Equal(t, "", e.WorstAction)
}

func TestComposeNoSignificantChange(t *testing.T) {
	before, after := profiles()
	e := Compose(logsFor(state.Calm, 0.1, 0.2), before, after, at)
	assert.Contains(t, e.DiaryText, "No notable personality change today.")
}

func TestChangesOrderedByMagnitude(t *testing.T) {
	before, after := profiles()
	after.Alpha[int(state.Empathy)] = 1.1 // +0.024
	after.Beta[int(state.Surprise)] = 3   // -0.25
	after.Alpha[int(state.Calm)] = 1.01  // +0.0025, below threshold

	e := Compose(logsFor(state.Calm, 0.5, 0.5), before, after, at)
	text := e.DiaryText
	iSurprise := strings.Index(text, "Surprise")
	iEmpathy := strings.Index(text, "Empathy")
	require.NotEqual(t, -1, iSurprise)
	require.NotEqual(t, -1, iEmpathy)
	assert.Less(t, iSurprise, iEmpathy)
	assert.Contains(t, text, "↓")
	assert.Contains(t, text, "↗")
	assert.NotContains(t, text, "- Calm")
}

func TestClosingRemark(t *testing.T) {
	before, after := profiles()
	cheerful := Compose(logsFor(state.Humor, 0.5, 0.5), before, after, at)
	assert.Contains(t, cheerful.DiaryText, "smiles")

	neutral := Compose(logsFor(state.Humor, 0.2, 0.1), before, after, at)
	assert.Contains(t, neutral.DiaryText, "still learning")

	rough := Compose(logsFor(state.Humor, -0.2, 0), before, after, at)
	assert.Contains(t, rough.DiaryText, "a little hard")
}

func TestSerializeChanges(t *testing.T) {
	s := SerializeChanges([]Change{
		{Action: state.Empathy, Before: 0.5, After: 0.52},
		{Action: state.Curiosity, Before: 0.5, After: 0.4444},
	})
	assert.Equal(t, "EMPATHY:0.500,0.520;CURIOSITY:0.500,0.444", s)
}

func TestBarAndArrow(t *testing.T) {
	assert.Equal(t, "□□□□□□□□□□", Bar(0))
	assert.Equal(t, "■■■■■■□□□□", Bar(0.67))
	assert.Equal(t, "■■■■■■■■■■", Bar(1.2))
	assert.Equal(t, "□□□□□□□□□□", Bar(-0.3))

	assert.Equal(t, "↑", Arrow(0.06))
	assert.Equal(t, "↓", Arrow(-0.06))
	assert.Equal(t, "↗", Arrow(0.02))
	assert.Equal(t, "↘", Arrow(-0.02))
	assert.Equal(t, "→", Arrow(0))
}

func TestStatsSkipsUnknownActions(t *testing.T) {
	logs := append(logsFor(state.Humor, 1, -1, 0), state.InteractionLog{ActionIndex: 42, RewardScore: 1})
	stats := Stats(logs)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Count)
	assert.InDelta(t, 1.0/3.0, stats[0].SuccessRate, 1e-12)
	assert.InDelta(t, 0.0, stats[0].MeanReward, 1e-12)
}

func TestRenderHTML(t *testing.T) {
	before, after := profiles()
	e := Compose(logsFor(state.Humor, 0.5, 0.5), before, after, at)
	html, err := RenderHTML(e)
	require.NoError(t, err)
	assert.Contains(t, html, "<h2>2026-03-01</h2>")
	assert.Contains(t, html, "<p>Today we interacted 2 times.")
}
