package credential

import "fmt"

// Grant names used in AuthError.
const (
	GrantPassword = "password"
	GrantRefresh  = "refresh_token"
)

// AuthError means the identity provider rejected the credentials or could not
// be reached.
type AuthError struct {
	Grant string
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth: %s grant failed", e.Grant)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }
