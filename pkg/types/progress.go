package types

import (
	"fmt"
	"time"
)

// SchemaVersion is stamped on every document the engine writes.
const SchemaVersion = 1

// ProgressState is the persisted readiness record for one device.
type ProgressState struct {
	Version  int    `json:"version"`
	DeviceID string `json:"deviceId"`

	// GoodNow is the verdict of the most recent successful evaluation.
	GoodNow bool `json:"goodNow"`

	// GoodSince anchors the current continuous-good streak; nil when not good.
	GoodSince *time.Time `json:"goodSince"`

	// Percent is elapsed streak time relative to the window, in [0, 100].
	Percent float64 `json:"percent"`

	// Level is the discrete tier derived from Percent.
	Level string `json:"level"`

	// LastValues holds the logical sensor values used for the verdict.
	// A missing or null raw value is recorded as nil.
	LastValues map[string]any `json:"lastValues,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate enforces the invariants that must hold for a stored record.
func (p ProgressState) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("progress: device id is required")
	}
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("progress %q: percent %v out of [0, 100]", p.DeviceID, p.Percent)
	}
	if p.Level == "" {
		return fmt.Errorf("progress %q: level is required", p.DeviceID)
	}
	if p.GoodSince == nil && p.Percent != 0 {
		return fmt.Errorf("progress %q: percent must be 0 without goodSince", p.DeviceID)
	}
	if !p.GoodNow && p.GoodSince != nil {
		return fmt.Errorf("progress %q: goodSince set while goodNow is false", p.DeviceID)
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("progress %q: updatedAt is required", p.DeviceID)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p ProgressState) Clone() ProgressState {
	out := p
	if p.GoodSince != nil {
		t := *p.GoodSince
		out.GoodSince = &t
	}
	if p.LastValues != nil {
		out.LastValues = make(map[string]any, len(p.LastValues))
		for k, v := range p.LastValues {
			out.LastValues[k] = v
		}
	}
	return out
}
