package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// DeviceSource enumerates devices and returns their configuration.
// Device returns an error wrapping ErrConfigMissing for unknown ids.
type DeviceSource interface {
	DeviceIDs(ctx context.Context) ([]string, error)
	Device(ctx context.Context, id string) (types.DeviceConfig, error)
}

// Registry is the in-memory device set kept by the config loader.
type Registry interface {
	IDs() []string
	Lookup(id string) (types.DeviceConfig, bool)
}

// FromRegistry serves devices from r.
func FromRegistry(r Registry) DeviceSource {
	return registrySource{r: r}
}

type registrySource struct{ r Registry }

func (s registrySource) DeviceIDs(context.Context) ([]string, error) {
	return s.r.IDs(), nil
}

func (s registrySource) Device(_ context.Context, id string) (types.DeviceConfig, error) {
	d, ok := s.r.Lookup(id)
	if !ok {
		return types.DeviceConfig{}, fmt.Errorf("%w: %s", ErrConfigMissing, id)
	}
	return d, nil
}

// FromStore serves devices from the devices collection.
func FromStore(ds store.DeviceStore) DeviceSource {
	return storeSource{ds: ds}
}

type storeSource struct{ ds store.DeviceStore }

func (s storeSource) DeviceIDs(ctx context.Context) ([]string, error) {
	devices, err := s.ds.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.DeviceID)
	}
	return ids, nil
}

func (s storeSource) Device(ctx context.Context, id string) (types.DeviceConfig, error) {
	d, err := s.ds.GetDevice(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceConfig{}, fmt.Errorf("%w: %s", ErrConfigMissing, id)
	}
	if err != nil {
		return types.DeviceConfig{}, err
	}
	// Documents written by other tools may omit the id field.
	if d.DeviceID == "" {
		d.DeviceID = id
	}
	return d, nil
}

// WithAllowlist makes src enumerate exactly ids. An allowed id without a
// configuration still appears in the run and fails as config_missing.
// An empty list leaves src unchanged.
func WithAllowlist(src DeviceSource, ids []string) DeviceSource {
	if len(ids) == 0 {
		return src
	}
	return allowlist{DeviceSource: src, ids: append([]string(nil), ids...)}
}

type allowlist struct {
	DeviceSource
	ids []string
}

func (a allowlist) DeviceIDs(context.Context) ([]string, error) {
	return append([]string(nil), a.ids...), nil
}
