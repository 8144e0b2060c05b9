package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/farmready/farmready/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func progress(id string, pct float64) types.ProgressState {
	since := baseTime
	return types.ProgressState{
		Version:    types.SchemaVersion,
		DeviceID:   id,
		GoodNow:    true,
		GoodSince:  &since,
		Percent:    pct,
		Level:      "L1",
		LastValues: map[string]any{"light": 500.0},
		UpdatedAt:  baseTime.Add(time.Minute),
	}
}

// --- Progress ---

func TestMemory_ProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.GetProgress(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProgress on empty store = %v, want ErrNotFound", err)
	}

	if err := m.PutProgress(ctx, progress("d1", 30)); err != nil {
		t.Fatalf("PutProgress() error = %v", err)
	}
	got, err := m.GetProgress(ctx, "d1")
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if got.Percent != 30 || !got.GoodSince.Equal(baseTime) {
		t.Errorf("got %+v", got)
	}
}

func TestMemory_ProgressIsCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := progress("d1", 30)
	_ = m.PutProgress(ctx, p)

	p.LastValues["light"] = 1.0
	*p.GoodSince = baseTime.Add(time.Hour)

	got, _ := m.GetProgress(ctx, "d1")
	if got.LastValues["light"] != 500.0 || !got.GoodSince.Equal(baseTime) {
		t.Errorf("stored progress was mutated through caller: %+v", got)
	}

	got.LastValues["light"] = 2.0
	again, _ := m.GetProgress(ctx, "d1")
	if again.LastValues["light"] != 500.0 {
		t.Error("stored progress was mutated through returned value")
	}
}

func TestMemory_ProgressValidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	bad := progress("d1", 150)
	if err := m.PutProgress(ctx, bad); err == nil {
		t.Error("percent 150 should be rejected")
	}

	bad = progress("d1", 10)
	bad.GoodSince = nil
	bad.GoodNow = false
	if err := m.PutProgress(ctx, bad); err == nil {
		t.Error("non-zero percent without goodSince should be rejected")
	}
	if all, _ := m.ListProgress(ctx); len(all) != 0 {
		t.Errorf("ListProgress() = %d documents, want 0", len(all))
	}
}

func TestMemory_ListProgressSorted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"c", "a", "b"} {
		_ = m.PutProgress(ctx, progress(id, 1))
	}
	list, err := m.ListProgress(ctx)
	if err != nil {
		t.Fatalf("ListProgress() error = %v", err)
	}
	if len(list) != 3 || list[0].DeviceID != "a" || list[2].DeviceID != "c" {
		t.Errorf("ListProgress order = %v", list)
	}
}

// --- Runs ---

func TestMemory_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	running := types.RunSummary{RunID: "r1", Status: types.RunRunning, StartedAt: baseTime}
	if err := m.PutRun(ctx, DefaultRunID, running); err != nil {
		t.Fatalf("PutRun(running) error = %v", err)
	}

	fin := baseTime.Add(time.Minute)
	done := running
	done.Status = types.RunIdle
	done.FinishedAt = &fin
	done.OKCount = 1
	done.PerDevice = map[string]types.DeviceOutcome{"d1": {OK: true, Level: "L0"}}
	if err := m.PutRun(ctx, DefaultRunID, done); err != nil {
		t.Fatalf("PutRun(idle) error = %v", err)
	}

	got, err := m.GetRun(ctx, DefaultRunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != types.RunIdle || got.OKCount != 1 || got.Duration() != time.Minute {
		t.Errorf("got %+v", got)
	}
}

func TestMemory_RunValidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fin := baseTime
	bad := types.RunSummary{RunID: "r1", Status: types.RunRunning, StartedAt: baseTime, FinishedAt: &fin}
	if err := m.PutRun(ctx, DefaultRunID, bad); err == nil {
		t.Error("running summary with finishedAt should be rejected")
	}
	if _, err := m.GetRun(ctx, DefaultRunID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() = %v, want ErrNotFound", err)
	}
}

// --- Devices ---

func TestMemory_Devices(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.PutDevice(ctx, types.DeviceConfig{}); err == nil {
		t.Error("device without id should be rejected")
	}

	d := types.DeviceConfig{
		DeviceID:   "d1",
		Thresholds: map[string]types.Bound{"light": types.Range(1, 2)},
	}
	if err := m.PutDevice(ctx, d); err != nil {
		t.Fatalf("PutDevice() error = %v", err)
	}
	*d.Thresholds["light"].Min = 99

	got, err := m.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if *got.Thresholds["light"].Min != 1 {
		t.Error("stored device shares bound pointers with caller")
	}

	list, _ := m.ListDevices(ctx)
	if len(list) != 1 {
		t.Errorf("ListDevices() = %v", list)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemory().PutProgress(ctx, progress("d", 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("PutProgress() = %v, want context.Canceled", err)
	}
}
