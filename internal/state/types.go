package state

import (
	"math"
	"time"
)

// #region actions
// Action is one of the fixed reaction categories the bandit chooses between.
// The order is persisted (arm index) and must never change.
type Action int

const (
	Empathy Action = iota
	Humor
	Surprise
	Calm
	Excitement
	Concern
	Encouragement
	Curiosity
)

// NumActions is the number of bandit arms.
const NumActions = 8

var actionNames = [NumActions]string{
	"EMPATHY", "HUMOR", "SURPRISE", "CALM",
	"EXCITEMENT", "CONCERN", "ENCOURAGEMENT", "CURIOSITY",
}

var actionLabels = [NumActions]string{
	"Empathy", "Humor", "Surprise", "Calm",
	"Excitement", "Concern", "Encouragement", "Curiosity",
}

// ActionFromIndex maps an arm index to its action. Unknown indices map to Calm.
func ActionFromIndex(i int) Action {
	if i < 0 || i >= NumActions {
		return Calm
	}
	return Action(i)
}

// ParseAction resolves a persisted action name. ok is false for unknown names.
func ParseAction(name string) (Action, bool) {
	for i, n := range actionNames {
		if n == name {
			return Action(i), true
		}
	}
	return Calm, false
}

// Valid reports whether a is a known arm.
func (a Action) Valid() bool { return a >= 0 && int(a) < NumActions }

func (a Action) String() string {
	if !a.Valid() {
		return "UNKNOWN"
	}
	return actionNames[a]
}

// Label is the display name used in diary text.
func (a Action) Label() string {
	if !a.Valid() {
		return "Unknown"
	}
	return actionLabels[a]
}

// ActionNames lists every action name in index order.
func ActionNames() []string {
	return append([]string(nil), actionNames[:]...)
}
// #endregion actions

// #region profile
const (
	DefaultUserID     = "default"
	ContextBiasLength = 16
	// MinParameter is the floor applied to every alpha and beta.
	MinParameter = 0.01
)

// UserProfile is the long-term memory: one Beta(alpha, beta) posterior per action.
type UserProfile struct {
	UserID              string
	Version             int64
	Alpha               []float64
	Beta                []float64
	ContextBias         []float64
	TotalInteractions   int64
	TotalConsolidations int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultProfile returns the uniform-prior profile used on first run.
func DefaultProfile(userID string, now time.Time) UserProfile {
	if userID == "" {
		userID = DefaultUserID
	}
	p := UserProfile{
		UserID:      userID,
		Version:     1,
		Alpha:       make([]float64, NumActions),
		Beta:        make([]float64, NumActions),
		ContextBias: make([]float64, ContextBiasLength),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i := 0; i < NumActions; i++ {
		p.Alpha[i] = 1
		p.Beta[i] = 1
	}
	return p
}

// Clone deep-copies the slices so callers can mutate the result freely.
func (p UserProfile) Clone() UserProfile {
	out := p
	out.Alpha = append([]float64(nil), p.Alpha...)
	out.Beta = append([]float64(nil), p.Beta...)
	out.ContextBias = append([]float64(nil), p.ContextBias...)
	return out
}

// Expectation is alpha/(alpha+beta) for action i, or 0.5 when i is unknown.
func (p UserProfile) Expectation(i int) float64 {
	if i < 0 || i >= len(p.Alpha) || i >= len(p.Beta) {
		return 0.5
	}
	a := floor(p.Alpha[i])
	b := floor(p.Beta[i])
	return a / (a + b)
}

// Expectations returns the expectation of every arm in action order.
func (p UserProfile) Expectations() []float64 {
	out := make([]float64, NumActions)
	for i := range out {
		out[i] = p.Expectation(i)
	}
	return out
}

// Sanitize repairs a profile read from storage: arrays are resized to their
// fixed lengths and NaN, infinite or below-floor parameters are clamped.
func (p UserProfile) Sanitize() UserProfile {
	out := p.Clone()
	out.Alpha = fitLength(out.Alpha, NumActions, 1)
	out.Beta = fitLength(out.Beta, NumActions, 1)
	out.ContextBias = fitLength(out.ContextBias, ContextBiasLength, 0)
	for i := 0; i < NumActions; i++ {
		out.Alpha[i] = floor(out.Alpha[i])
		out.Beta[i] = floor(out.Beta[i])
	}
	for i, v := range out.ContextBias {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.ContextBias[i] = 0
		}
	}
	if out.UserID == "" {
		out.UserID = DefaultUserID
	}
	if out.Version < 1 {
		out.Version = 1
	}
	if out.TotalInteractions < 0 {
		out.TotalInteractions = 0
	}
	if out.TotalConsolidations < 0 {
		out.TotalConsolidations = 0
	}
	return out
}

func floor(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < MinParameter {
		return MinParameter
	}
	return v
}

func fitLength(v []float64, n int, fill float64) []float64 {
	if len(v) == n {
		return v
	}
	out := make([]float64, n)
	for i := range out {
		if i < len(v) {
			out[i] = v[i]
		} else {
			out[i] = fill
		}
	}
	return out
}
// #endregion profile

// #region interaction-log
// InteractionLog is one short-term memory record. Only Consolidated ever changes.
type InteractionLog struct {
	ID               string
	CreatedAt        time.Time
	ContextVector    []float64
	ActionIndex      int
	ActionIntensity  float64
	RewardScore      float64
	RewardConfidence float64
	Consolidated     bool
}
// #endregion interaction-log

// #region diary-entry
// DiaryEntry is the narrative summary produced by one consolidation run.
type DiaryEntry struct {
	ID                   string
	Date                 string // 2006-01-02
	CreatedAt            time.Time
	TotalInteractions    int
	TopAction            string
	TopSuccessRate       float64
	WorstAction          string
	WorstSuccessRate     float64
	PersonalityChanges   string // NAME:before,after;...
	DiaryText            string
	ProfileVersionBefore int64
	ProfileVersionAfter  int64
}

// DiaryDateLayout is the layout of DiaryEntry.Date.
const DiaryDateLayout = "2006-01-02"
// #endregion diary-entry

// #region profile-version
// ProfileVersion is a history snapshot written whenever a consolidation commits.
type ProfileVersion struct {
	VersionID   string
	UserID      string
	Version     int64
	Alpha       []float64
	Beta        []float64
	ContextBias []float64
	CreatedAt   time.Time
}
// #endregion profile-version

// #region consolidation-commit
// ConsolidationCommit is what CommitConsolidation wrote in one transaction.
type ConsolidationCommit struct {
	Before UserProfile
	After  UserProfile
	Diary  DiaryEntry
	Marked int
}
// #endregion consolidation-commit
