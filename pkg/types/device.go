package types

import (
	"fmt"
	"math"
	"strings"
)

// DefaultWindowMinutes is used when a device does not set window_minutes.
const DefaultWindowMinutes = 60

// Bound is an inclusive numeric range. A nil bound is unconstrained.
type Bound struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Range is a convenience constructor for a bound with both ends set.
func Range(min, max float64) Bound {
	return Bound{Min: &min, Max: &max}
}

// AtLeast returns a bound with only a lower limit.
func AtLeast(min float64) Bound {
	return Bound{Min: &min}
}

// AtMost returns a bound with only an upper limit.
func AtMost(max float64) Bound {
	return Bound{Max: &max}
}

// DeviceConfig describes one monitored device.
type DeviceConfig struct {
	// DeviceID is the local key used for progress documents.
	DeviceID string `yaml:"id" json:"deviceId"`

	// ExternalDeviceID is the identifier in the remote shadow service.
	// Empty means the same as DeviceID.
	ExternalDeviceID string `yaml:"external_id" json:"externalDeviceId,omitempty"`

	// VariableMap maps a logical sensor name (e.g. "light") to the raw key or
	// dotted path in the shadow document (e.g. "Light_out", "weather.par").
	VariableMap map[string]string `yaml:"variable_map" json:"variableMap,omitempty"`

	// Thresholds maps a logical sensor name to its acceptable range.
	Thresholds map[string]Bound `yaml:"thresholds" json:"thresholds,omitempty"`

	// WindowMinutes is the continuous-good duration needed to reach 100%.
	WindowMinutes int `yaml:"window_minutes" json:"windowMinutes,omitempty"`
}

// External returns the identifier to query the shadow service with.
func (d DeviceConfig) External() string {
	if d.ExternalDeviceID != "" {
		return d.ExternalDeviceID
	}
	return d.DeviceID
}

// Validate checks the structural rules a device must satisfy before the
// engine will evaluate it.
func (d DeviceConfig) Validate() error {
	if strings.TrimSpace(d.DeviceID) == "" {
		return fmt.Errorf("device id is required")
	}
	if d.WindowMinutes < 0 {
		return fmt.Errorf("device %q: window_minutes must not be negative", d.DeviceID)
	}
	for key, b := range d.Thresholds {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("device %q: empty threshold key", d.DeviceID)
		}
		if b.Min != nil && !finite(*b.Min) {
			return fmt.Errorf("device %q: threshold %q: min is not finite", d.DeviceID, key)
		}
		if b.Max != nil && !finite(*b.Max) {
			return fmt.Errorf("device %q: threshold %q: max is not finite", d.DeviceID, key)
		}
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("device %q: threshold %q: min %v > max %v", d.DeviceID, key, *b.Min, *b.Max)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
