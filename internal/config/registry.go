package config

import (
	"reflect"
	"sort"
	"sync"

	"github.com/farmready/farmready/pkg/types"
)

// Registry is the current set of device definitions from the config file.
// Replace swaps the whole set; readers never see a partial update.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]types.DeviceConfig
}

// Diff lists device ids affected by a Replace, each sorted.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the replacement changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// NewRegistry returns a Registry holding devices.
func NewRegistry(devices []types.DeviceConfig) *Registry {
	r := &Registry{}
	r.Replace(devices)
	return r
}

// Replace installs a new device set and reports what differs from the old one.
func (r *Registry) Replace(devices []types.DeviceConfig) Diff {
	m := make(map[string]types.DeviceConfig, len(devices))
	for _, d := range devices {
		m[d.DeviceID] = d
	}

	r.mu.Lock()
	old := r.devices
	r.devices = m
	r.mu.Unlock()

	var diff Diff
	for id, d := range m {
		prev, ok := old[id]
		switch {
		case !ok:
			diff.Added = append(diff.Added, id)
		case !reflect.DeepEqual(prev, d):
			diff.Changed = append(diff.Changed, id)
		}
	}
	for id := range old {
		if _, ok := m[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// IDs returns the device ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the device with id.
func (r *Registry) Lookup(id string) (types.DeviceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
