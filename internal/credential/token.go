package credential

import (
	"context"
	"time"
)

// Token is an access token with its refresh token and absolute expiry.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// ValidAt reports whether t can still be used at now with margin to spare.
func (t *Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(t.Expiry)
}

// TokenStore persists the current token outside the process.
// Load returns (nil, nil) when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (*Token, error)
	Save(ctx context.Context, tok Token) error
}
