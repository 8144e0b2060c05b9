package shadow

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError describes a failed shadow retrieval.
type FetchError struct {
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	msg := "shadow fetch failed"
	if e.Status != 0 {
		msg = fmt.Sprintf("shadow fetch failed: status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is a fetch rejected with 401, meaning the
// bearer credential is no longer accepted.
func IsUnauthorized(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusUnauthorized
}
