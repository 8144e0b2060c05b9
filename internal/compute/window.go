package compute

import (
	"math"
	"time"

	"github.com/farmready/farmready/pkg/types"
)

// Machine computes ProgressState transitions. The zero value uses
// PercentToLevel.
type Machine struct {
	// Level maps percent to a tier. Nil means PercentToLevel.
	Level LevelFunc
}

// NewMachine returns a Machine using the canonical tier mapping.
func NewMachine() *Machine {
	return &Machine{Level: PercentToLevel}
}

func (m *Machine) level(percent float64) string {
	if m == nil || m.Level == nil {
		return PercentToLevel(percent)
	}
	return m.Level(percent)
}

// Lowest returns the tier reported whenever goodSince is nil.
func (m *Machine) Lowest() string {
	return m.level(0)
}

// Next returns the state that follows prev given the current verdict.
//
// A true verdict keeps the existing goodSince anchor only when the previous
// state was good and anchored; otherwise the streak starts at now. A false
// verdict clears the anchor and resets percent to 0 on the same call.
//
// prev may be the zero value for a device that has never been evaluated.
// LastValues is left for the caller to fill.
func (m *Machine) Next(prev types.ProgressState, good bool, windowMinutes int, now time.Time) types.ProgressState {
	out := types.ProgressState{
		Version:   types.SchemaVersion,
		DeviceID:  prev.DeviceID,
		GoodNow:   good,
		UpdatedAt: now,
	}

	if !good {
		out.Percent = 0
		out.Level = m.Lowest()
		return out
	}

	since := now
	if prev.GoodNow && prev.GoodSince != nil {
		since = *prev.GoodSince
	}
	out.GoodSince = &since
	out.Percent = Percent(since, now, windowMinutes)
	out.Level = m.level(out.Percent)
	return out
}

// Percent returns elapsed time since since as a share of the window, clamped
// to [0, 100] and rounded to two decimals. A non-positive window falls back
// to the default.
func Percent(since, now time.Time, windowMinutes int) float64 {
	if windowMinutes <= 0 {
		windowMinutes = types.DefaultWindowMinutes
	}
	elapsed := now.Sub(since).Minutes()
	pct := elapsed / float64(windowMinutes) * 100
	return round2(clamp(pct, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
