package api

import (
	"crypto/subtle"
	"net/http"
)

// AuthConfig configures API-key protection.
type AuthConfig struct {
	// Mode is apikey | none.
	Mode   string
	Header string
	Key    string
}

func (a AuthConfig) enabled() bool {
	return a.Mode == "apikey" && a.Key != ""
}

// authorized reports whether r carries the configured key. When auth is not
// enabled (mode other than apikey, or no key configured) every request passes.
func (a AuthConfig) authorized(r *http.Request) bool {
	if !a.enabled() {
		return true
	}
	header := a.Header
	if header == "" {
		header = "x-api-key"
	}
	got := r.Header.Get(header)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.Key)) == 1
}

// RequireAPIKey wraps next so that requests without the configured key get 401.
func RequireAPIKey(a AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			jsonErr(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
