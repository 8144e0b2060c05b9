package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmready/farmready/internal/compute"
	"github.com/farmready/farmready/internal/shadow"
	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// TokenSource supplies bearer credentials. *credential.Cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(access string)
}

// ShadowFetcher retrieves device snapshots. *shadow.Client implements it.
type ShadowFetcher interface {
	Fetch(ctx context.Context, externalID, bearer string) (*shadow.Snapshot, error)
}

// Pipeline processes a single device. It holds no per-device state; the
// Tokens source is the only collaborator shared between devices.
type Pipeline struct {
	Devices  DeviceSource
	Tokens   TokenSource
	Shadows  ShadowFetcher
	Progress store.ProgressStore
	Machine  *compute.Machine
}

// Outcome is the result of one successful Process call.
type Outcome struct {
	DeviceID string
	Config   types.DeviceConfig
	Verdict  compute.Verdict

	// Previous is the stored state before this evaluation, nil if none.
	Previous *types.ProgressState

	// State is the computed next state.
	State types.ProgressState

	// Persisted reports whether State was written.
	Persisted bool
}

// Process evaluates device id at now. When persist is false nothing is
// written; the returned State is what would have been stored.
func (p *Pipeline) Process(ctx context.Context, id string, now time.Time, persist bool) (Outcome, error) {
	out := Outcome{DeviceID: id}

	cfg, err := p.Devices.Device(ctx, id)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, ErrConfigMissing) {
			kind = KindConfigMissing
		}
		return out, &Error{Kind: kind, DeviceID: id, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return out, &Error{Kind: KindConfigInvalid, DeviceID: id, Err: err}
	}
	out.Config = cfg

	bearer, err := p.Tokens.Token(ctx)
	if err != nil {
		return out, &Error{Kind: KindAuth, DeviceID: id, Err: err}
	}

	snap, err := p.Shadows.Fetch(ctx, cfg.External(), bearer)
	if err != nil {
		if shadow.IsUnauthorized(err) {
			p.Tokens.Invalidate(bearer)
		}
		return out, &Error{Kind: KindShadowFetch, DeviceID: id, Err: err}
	}

	out.Verdict = compute.Inspect(snap, cfg.Thresholds, cfg.VariableMap)

	prev, err := p.Progress.GetProgress(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		prev = types.ProgressState{DeviceID: id}
	case err != nil:
		return out, &Error{Kind: KindPersist, DeviceID: id, Err: fmt.Errorf("read progress: %w", err)}
	default:
		cp := prev.Clone()
		out.Previous = &cp
	}

	next := p.Machine.Next(prev, out.Verdict.Good, cfg.WindowMinutes, now)
	next.DeviceID = id
	next.LastValues = out.Verdict.Values
	out.State = next

	if !persist {
		return out, nil
	}
	if err := p.Progress.PutProgress(ctx, next); err != nil {
		return out, &Error{Kind: KindPersist, DeviceID: id, Err: fmt.Errorf("write progress: %w", err)}
	}
	out.Persisted = true
	return out, nil
}
