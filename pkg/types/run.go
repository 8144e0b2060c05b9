package types

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a RunSummary.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunIdle    RunStatus = "idle"
)

// RunSummary records one execution of the poll driver across all devices.
type RunSummary struct {
	Version    int        `json:"version"`
	RunID      string     `json:"runId"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
	OKCount    int        `json:"okCount"`
	ErrCount   int        `json:"errCount"`

	// Error is set when the run could not enumerate devices at all.
	Error string `json:"error,omitempty"`

	PerDevice map[string]DeviceOutcome `json:"perDevice"`
}

// DeviceOutcome is either a success digest (percent, level, updatedAt) or an
// error message (kind, error). Percent is a pointer so a 0% digest still
// carries the field while failures omit it.
type DeviceOutcome struct {
	OK        bool       `json:"ok"`
	Percent   *float64   `json:"percent,omitempty"`
	Level     string     `json:"level,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Succeeded returns the success digest for a stored state.
func Succeeded(st ProgressState) DeviceOutcome {
	percent := st.Percent
	updated := st.UpdatedAt
	return DeviceOutcome{OK: true, Percent: &percent, Level: st.Level, UpdatedAt: &updated}
}

// Duration returns how long a finished run took, or zero while running.
func (r RunSummary) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate enforces the lifecycle rules for a stored summary.
func (r RunSummary) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run: id is required")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("run %s: startedAt is required", r.RunID)
	}
	switch r.Status {
	case RunRunning:
		if r.FinishedAt != nil {
			return fmt.Errorf("run %s: running summary must not have finishedAt", r.RunID)
		}
	case RunIdle:
		if r.FinishedAt == nil {
			return fmt.Errorf("run %s: finished summary requires finishedAt", r.RunID)
		}
	default:
		return fmt.Errorf("run %s: unknown status %q", r.RunID, r.Status)
	}
	if r.OKCount < 0 || r.ErrCount < 0 {
		return fmt.Errorf("run %s: negative counts", r.RunID)
	}
	if n := len(r.PerDevice); r.Status == RunIdle && n != r.OKCount+r.ErrCount {
		return fmt.Errorf("run %s: %d device outcomes but ok+err = %d", r.RunID, n, r.OKCount+r.ErrCount)
	}
	return nil
}
