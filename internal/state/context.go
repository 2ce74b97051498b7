package state

import (
	"math"
	"time"
)

// #region dimensions
const (
	ContentDim   = 32
	UserStateDim = 16
	ExternalDim  = 32
	ContextDim   = ContentDim + UserStateDim + ExternalDim
)

// userState layout
const (
	userHourSin     = 0
	userHourCos     = 1
	userWeekdayBase = 2 // one-hot over [2, 9)
	userCharging    = 9
	userUnmetered   = 10
	userBattery     = 11
)
// #endregion dimensions

// #region snapshot
// ContextSnapshot is the fixed-shape context vector captured at decision time.
// Fields are unexported so a snapshot cannot change after construction.
type ContextSnapshot struct {
	content   [ContentDim]float64
	userState [UserStateDim]float64
	external  [ExternalDim]float64
	at        time.Time
}

// DeviceState is the subset of device conditions encoded into the user-state segment
// and checked by the consolidation preconditions.
type DeviceState struct {
	Charging     bool
	Unmetered    bool
	BatteryLevel float64 // 0..1
	BatteryLow   bool
}

// SnapshotAt builds the time-of-day snapshot: hour angle as sin/cos and a
// day-of-week one-hot. All other segments are zero.
func SnapshotAt(t time.Time) ContextSnapshot {
	var s ContextSnapshot
	s.at = t
	hourAngle := float64(t.Hour()) / 24.0 * 2 * math.Pi
	s.userState[userHourSin] = math.Sin(hourAngle)
	s.userState[userHourCos] = math.Cos(hourAngle)
	s.userState[userWeekdayBase+int(t.Weekday())] = 1
	return s
}

// NewSnapshot builds a snapshot from explicit segments. Short segments are
// zero-padded and long ones truncated.
func NewSnapshot(content, userState, external []float64) ContextSnapshot {
	var s ContextSnapshot
	copy(s.content[:], content)
	copy(s.userState[:], userState)
	copy(s.external[:], external)
	return s
}

// SnapshotFromVector splits a full vector in content+userState+external order.
func SnapshotFromVector(v []float64) ContextSnapshot {
	var s ContextSnapshot
	if len(v) > 0 {
		copy(s.content[:], v)
	}
	if len(v) > ContentDim {
		copy(s.userState[:], v[ContentDim:])
	}
	if len(v) > ContentDim+UserStateDim {
		copy(s.external[:], v[ContentDim+UserStateDim:])
	}
	return s
}

// WithDevice returns a copy with the device features filled in.
func (s ContextSnapshot) WithDevice(d DeviceState) ContextSnapshot {
	s.userState[userCharging] = boolFloat(d.Charging)
	s.userState[userUnmetered] = boolFloat(d.Unmetered)
	lvl := d.BatteryLevel
	if math.IsNaN(lvl) || lvl < 0 {
		lvl = 0
	}
	if lvl > 1 {
		lvl = 1
	}
	s.userState[userBattery] = lvl
	return s
}

// At is the capture time (zero for snapshots not built from a clock).
func (s ContextSnapshot) At() time.Time { return s.at }

// HourSin is the sine of the hour angle, used by the intensity rule.
func (s ContextSnapshot) HourSin() float64 { return s.userState[userHourSin] }

// FullVector concatenates content, userState and external, in that order.
func (s ContextSnapshot) FullVector() []float64 {
	out := make([]float64, 0, ContextDim)
	out = append(out, s.content[:]...)
	out = append(out, s.userState[:]...)
	out = append(out, s.external[:]...)
	return out
}

func (s ContextSnapshot) Content() []float64   { return append([]float64(nil), s.content[:]...) }
func (s ContextSnapshot) UserState() []float64 { return append([]float64(nil), s.userState[:]...) }
func (s ContextSnapshot) External() []float64  { return append([]float64(nil), s.external[:]...) }

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
// #endregion snapshot
