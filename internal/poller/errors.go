package poller

import (
	"errors"
	"fmt"

	"github.com/farmready/farmready/internal/credential"
	"github.com/farmready/farmready/internal/shadow"
)

// Kind classifies a per-device pipeline failure.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindConfigMissing Kind = "config_missing"
	KindConfigInvalid Kind = "config_invalid"
	KindShadowFetch   Kind = "shadow_fetch"
	KindPersist       Kind = "persist"
	KindInternal      Kind = "internal"
)

var (
	// ErrConfigMissing is returned by a DeviceSource for an unknown id.
	ErrConfigMissing = errors.New("device config not found")

	// ErrRunInProgress is returned when another run holds the run document.
	ErrRunInProgress = errors.New("poller: run already in progress")
)

// Error is a pipeline failure attributed to one device.
type Error struct {
	Kind     Kind
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.DeviceID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that are not *Error are inspected for the
// typed upstream errors before falling back to KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ae *credential.AuthError
	if errors.As(err, &ae) {
		return KindAuth
	}
	var fe *shadow.FetchError
	if errors.As(err, &fe) {
		return KindShadowFetch
	}
	if errors.Is(err, ErrConfigMissing) {
		return KindConfigMissing
	}
	return KindInternal
}
