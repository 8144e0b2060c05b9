package credential

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshMargin is how long before expiry a token is replaced.
	DefaultRefreshMargin = 60 * time.Second

	// defaultExpiresIn applies when the provider omits expires_in.
	defaultExpiresIn = 3600 * time.Second

	defaultTimeout = 10 * time.Second
)

// Config holds the identity-provider endpoint and service credentials.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// RefreshMargin is the safety margin before expiry. Zero means 60s.
	RefreshMargin time.Duration

	// Timeout bounds a single exchange. Zero means 10s.
	Timeout time.Duration

	InsecureSkipVerify bool
}

// Cache hands out a valid bearer token, refreshing it at most once at a time.
// All exported methods are safe for concurrent use.
type Cache struct {
	cfg    Config
	client *http.Client
	store  TokenStore
	now    func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	token *Token
	// rejected is the last access token reported bad by Invalidate; a shared
	// store may still hold it.
	rejected string
}

// Option customises a Cache.
type Option func(*Cache)

// WithHTTPClient overrides the client used for token exchanges.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cache) { c.client = hc }
}

// WithStore shares tokens through s.
func WithStore(s TokenStore) Option {
	return func(c *Cache) { c.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache for cfg.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("credential: token url is required")
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Cache{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // user-configured
				Proxy:           http.ProxyFromEnvironment,
			},
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Token returns a bearer token valid for at least the refresh margin.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok := c.current(); tok != "" {
		return tok, nil
	}

	// The exchange outlives any single caller so that a cancelled request
	// does not fail the others sharing it. The http client timeout bounds it.
	ch := c.group.DoChan("token", func() (any, error) {
		if tok := c.current(); tok != "" {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops access if it is still the cached token, forcing the next
// Token call to refresh. The refresh token is kept.
func (c *Cache) Invalidate(access string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.AccessToken == access {
		c.token.AccessToken = ""
		c.token.Expiry = time.Time{}
	}
	c.rejected = access
}

// current returns the cached access token if it is valid, else "".
func (c *Cache) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.ValidAt(c.now(), c.cfg.RefreshMargin) {
		return c.token.AccessToken
	}
	return ""
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	if tok := c.loadShared(ctx); tok != nil {
		c.set(tok)
		return tok.AccessToken, nil
	}

	c.mu.Lock()
	var refreshToken string
	if c.token != nil {
		refreshToken = c.token.RefreshToken
	}
	c.mu.Unlock()

	var (
		tok *Token
		err error
	)
	if refreshToken != "" {
		tok, err = c.exchange(ctx, GrantRefresh, url.Values{
			"grant_type":    {GrantRefresh},
			"refresh_token": {refreshToken},
		})
		if err != nil {
			slog.Warn("credential: refresh grant failed, falling back to password grant", "err", err)
		} else if tok.RefreshToken == "" {
			tok.RefreshToken = refreshToken
		}
	}

	if tok == nil {
		if c.cfg.Username == "" || c.cfg.Password == "" || c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
			return "", &AuthError{Grant: GrantPassword, Detail: "missing service credentials"}
		}
		tok, err = c.exchange(ctx, GrantPassword, url.Values{
			"grant_type": {GrantPassword},
			"username":   {c.cfg.Username},
			"password":   {c.cfg.Password},
		})
		if err != nil {
			return "", err
		}
	}

	c.set(tok)
	if c.store != nil {
		if err := c.store.Save(ctx, *tok); err != nil {
			slog.Warn("credential: save shared token failed", "err", err)
		}
	}
	slog.Debug("credential: token refreshed", "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// loadShared returns a usable token from the store, or nil.
func (c *Cache) loadShared(ctx context.Context) *Token {
	if c.store == nil {
		return nil
	}
	tok, err := c.store.Load(ctx)
	if err != nil {
		slog.Warn("credential: load shared token failed", "err", err)
		return nil
	}
	c.mu.Lock()
	rejected := c.rejected
	c.mu.Unlock()
	if tok == nil || tok.AccessToken == rejected || !tok.ValidAt(c.now(), c.cfg.RefreshMargin) {
		return nil
	}
	return tok
}

func (c *Cache) set(tok *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *tok
	c.token = &cp
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// exchange performs one form-encoded token request. Client credentials are
// sent both as HTTP Basic auth and in the form body.
func (c *Cache) exchange(ctx context.Context, grant string, form url.Values) (*Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Grant: grant, Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	issued := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &AuthError{Grant: grant, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: "read body", Err: err}
	}

	var tr tokenResponse
	jsonErr := json.Unmarshal(raw, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(raw))
		if jsonErr == nil && tr.Error != "" {
			detail = describe(tr)
		}
		return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: detail}
	}
	if jsonErr != nil {
		return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: "invalid json", Err: jsonErr}
	}
	if tr.Error != "" {
		return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: describe(tr)}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: "response has no access_token"}
	}

	ttl := defaultExpiresIn
	if tr.ExpiresIn != "" {
		secs, err := tr.ExpiresIn.Float64()
		if err != nil {
			return nil, &AuthError{Grant: grant, Status: resp.StatusCode, Detail: "invalid expires_in", Err: err}
		}
		if secs > 0 {
			ttl = time.Duration(secs * float64(time.Second))
		}
	}

	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       issued.Add(ttl),
	}, nil
}

func describe(tr tokenResponse) string {
	if tr.ErrorDescription != "" {
		return tr.Error + ": " + tr.ErrorDescription
	}
	return tr.Error
}

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
