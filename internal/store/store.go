package store

import (
	"context"
	"errors"

	"github.com/farmready/farmready/pkg/types"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultRunID is the document id of the single run summary.
const DefaultRunID = "pollNexiiot"

// DeviceStore holds externally managed device configurations.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]types.DeviceConfig, error)
	GetDevice(ctx context.Context, id string) (types.DeviceConfig, error)
	PutDevice(ctx context.Context, d types.DeviceConfig) error
}

// ProgressStore holds one ProgressState per device. PutProgress upserts.
type ProgressStore interface {
	GetProgress(ctx context.Context, deviceID string) (types.ProgressState, error)
	PutProgress(ctx context.Context, p types.ProgressState) error
	ListProgress(ctx context.Context) ([]types.ProgressState, error)
}

// RunStore holds run summaries keyed by run document id.
type RunStore interface {
	GetRun(ctx context.Context, id string) (types.RunSummary, error)
	PutRun(ctx context.Context, id string, r types.RunSummary) error
}

// Store is the full persistence surface.
type Store interface {
	DeviceStore
	ProgressStore
	RunStore
	Close() error
}
