package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmready/farmready/internal/compute"
	"github.com/farmready/farmready/internal/poller"
	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// Result is the outcome of RecomputeOne.
type Result struct {
	DeviceID   string               `json:"deviceId"`
	DryRun     bool                 `json:"dryRun"`
	Good       bool                 `json:"good"`
	Percent    float64              `json:"percent"`
	Level      string               `json:"level"`
	GoodSince  *time.Time           `json:"goodSince"`
	UpdatedAt  time.Time            `json:"updatedAt"`
	Values     map[string]any       `json:"values"`
	Violations []compute.Violation  `json:"violations,omitempty"`
	Previous   *types.ProgressState `json:"previous,omitempty"`
	Persisted  bool                 `json:"persisted"`
}

// Facade serves diagnostic requests.
type Facade struct {
	pipeline *poller.Pipeline
	progress store.ProgressStore
	runs     store.RunStore
	runID    string
	now      func() time.Time
}

// New returns a Facade. runID is the run summary document id.
func New(p *poller.Pipeline, progress store.ProgressStore, runs store.RunStore, runID string) *Facade {
	if runID == "" {
		runID = store.DefaultRunID
	}
	return &Facade{pipeline: p, progress: progress, runs: runs, runID: runID, now: time.Now}
}

// RecomputeOne runs the pipeline for deviceID now. With dryRun it returns
// the would-be state and writes nothing.
func (f *Facade) RecomputeOne(ctx context.Context, deviceID string, dryRun bool) (Result, error) {
	if deviceID == "" {
		return Result{}, &poller.Error{Kind: poller.KindConfigMissing, Err: errors.New("device id is required")}
	}
	out, err := f.pipeline.Process(ctx, deviceID, f.now(), !dryRun)
	if err != nil {
		return Result{}, err
	}
	st := out.State
	return Result{
		DeviceID:   deviceID,
		DryRun:     dryRun,
		Good:       st.GoodNow,
		Percent:    st.Percent,
		Level:      st.Level,
		GoodSince:  st.GoodSince,
		UpdatedAt:  st.UpdatedAt,
		Values:     out.Verdict.Values,
		Violations: out.Verdict.Violations,
		Previous:   out.Previous,
		Persisted:  out.Persisted,
	}, nil
}

// GetProgress returns the stored progress, or store.ErrNotFound.
func (f *Facade) GetProgress(ctx context.Context, deviceID string) (types.ProgressState, error) {
	p, err := f.progress.GetProgress(ctx, deviceID)
	if err != nil {
		return types.ProgressState{}, fmt.Errorf("diagnostics: get progress: %w", err)
	}
	return p, nil
}

// ListProgress returns every stored progress document.
func (f *Facade) ListProgress(ctx context.Context) ([]types.ProgressState, error) {
	list, err := f.progress.ListProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: list progress: %w", err)
	}
	return list, nil
}

// GetRunStatus returns the latest run summary, or store.ErrNotFound.
func (f *Facade) GetRunStatus(ctx context.Context) (types.RunSummary, error) {
	r, err := f.runs.GetRun(ctx, f.runID)
	if err != nil {
		return types.RunSummary{}, fmt.Errorf("diagnostics: get run status: %w", err)
	}
	return r, nil
}
