package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/farmready/farmready/pkg/types"
)

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	devices  map[string]types.DeviceConfig
	progress map[string]types.ProgressState
	runs     map[string]types.RunSummary
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:  make(map[string]types.DeviceConfig),
		progress: make(map[string]types.ProgressState),
		runs:     make(map[string]types.RunSummary),
	}
}

// ListDevices returns all devices ordered by id.
func (m *Memory) ListDevices(ctx context.Context) ([]types.DeviceConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.DeviceConfig, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, cloneDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// GetDevice returns the device with the given id.
func (m *Memory) GetDevice(ctx context.Context, id string) (types.DeviceConfig, error) {
	if err := ctx.Err(); err != nil {
		return types.DeviceConfig{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return types.DeviceConfig{}, ErrNotFound
	}
	return cloneDevice(d), nil
}

// PutDevice stores or replaces d.
func (m *Memory) PutDevice(ctx context.Context, d types.DeviceConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("store: put device: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.DeviceID] = cloneDevice(d)
	return nil
}

// GetProgress returns the stored progress for deviceID.
func (m *Memory) GetProgress(ctx context.Context, deviceID string) (types.ProgressState, error) {
	if err := ctx.Err(); err != nil {
		return types.ProgressState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[deviceID]
	if !ok {
		return types.ProgressState{}, ErrNotFound
	}
	return p.Clone(), nil
}

// PutProgress upserts p. The stored document is replaced as a whole.
func (m *Memory) PutProgress(ctx context.Context, p types.ProgressState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("store: put progress: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[p.DeviceID] = p.Clone()
	return nil
}

// ListProgress returns all progress documents ordered by device id.
func (m *Memory) ListProgress(ctx context.Context) ([]types.ProgressState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ProgressState, 0, len(m.progress))
	for _, p := range m.progress {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// GetRun returns the run summary stored under id.
func (m *Memory) GetRun(ctx context.Context, id string) (types.RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return types.RunSummary{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return types.RunSummary{}, ErrNotFound
	}
	return CloneRun(r), nil
}

// PutRun replaces the run summary stored under id.
func (m *Memory) PutRun(ctx context.Context, id string, r types.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: put run: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id] = CloneRun(r)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cloneDevice(d types.DeviceConfig) types.DeviceConfig {
	out := d
	if d.VariableMap != nil {
		out.VariableMap = make(map[string]string, len(d.VariableMap))
		for k, v := range d.VariableMap {
			out.VariableMap[k] = v
		}
	}
	if d.Thresholds != nil {
		out.Thresholds = make(map[string]types.Bound, len(d.Thresholds))
		for k, b := range d.Thresholds {
			nb := types.Bound{}
			if b.Min != nil {
				v := *b.Min
				nb.Min = &v
			}
			if b.Max != nil {
				v := *b.Max
				nb.Max = &v
			}
			out.Thresholds[k] = nb
		}
	}
	return out
}

// CloneRun returns a deep copy of r.
func CloneRun(r types.RunSummary) types.RunSummary {
	out := r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.PerDevice != nil {
		out.PerDevice = make(map[string]types.DeviceOutcome, len(r.PerDevice))
		for k, v := range r.PerDevice {
			if v.UpdatedAt != nil {
				t := *v.UpdatedAt
				v.UpdatedAt = &t
			}
			if v.Percent != nil {
				p := *v.Percent
				v.Percent = &p
			}
			out.PerDevice[k] = v
		}
	}
	return out
}
