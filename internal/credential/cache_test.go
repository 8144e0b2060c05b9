package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// provider is a fake identity provider that records each grant it serves.
type provider struct {
	mu       sync.Mutex
	grants   []string
	password atomic.Int32
	refresh  atomic.Int32

	delay       time.Duration
	failRefresh atomic.Bool
	failAll     atomic.Bool
	noRefresh   bool
	expiresIn   any
}

func (p *provider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		grant := r.PostForm.Get("grant_type")
		p.mu.Lock()
		p.grants = append(p.grants, grant)
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if p.failAll.Load() {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
			return
		}

		var n int32
		switch grant {
		case GrantPassword:
			if r.PostForm.Get("username") != "svc" || r.PostForm.Get("password") != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad user"}`))
				return
			}
			n = p.password.Add(1)
		case GrantRefresh:
			if p.failRefresh.Load() {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			n = p.refresh.Add(1)
		}

		body := map[string]any{"access_token": grant + "-" + string(rune('0'+n))}
		if !p.noRefresh || grant == GrantPassword {
			body["refresh_token"] = "r-" + string(rune('0'+n))
		}
		if p.expiresIn != nil {
			body["expires_in"] = p.expiresIn
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (p *provider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.grants...)
}

func newCache(t *testing.T, p *provider, clk *clock, opts ...Option) *Cache {
	t.Helper()
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)
	opts = append([]Option{WithHTTPClient(srv.Client()), WithClock(clk.now)}, opts...)
	c, err := New(Config{
		TokenURL:     srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		Username:     "svc",
		Password:     "pw",
	}, opts...)
	require.NoError(t, err)
	return c
}

// --- Acquisition and caching ---

func TestToken_PasswordGrantThenCached(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password-1", tok)

	clk.advance(5 * time.Minute)
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password-1", tok)
	require.Equal(t, []string{GrantPassword}, p.seen())
}

func TestToken_RefreshesInsideMargin(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	// 541s in: less than 60s of validity left.
	clk.advance(541 * time.Second)
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh_token-1", tok)
	require.Equal(t, []string{GrantPassword, GrantRefresh}, p.seen())
}

func TestToken_DefaultExpiresIn(t *testing.T) {
	p := &provider{}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	clk.advance(3500 * time.Second)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	require.Len(t, p.seen(), 1, "token without expires_in should last an hour")
}

func TestToken_StringExpiresIn(t *testing.T) {
	p := &provider{expiresIn: "120"}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	clk.advance(61 * time.Second)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	require.Len(t, p.seen(), 2)
}

// --- Fallback and failure ---

func TestToken_RefreshFailureFallsBackToPassword(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	p.failRefresh.Store(true)
	clk.advance(time.Hour)
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password-2", tok)
	require.Equal(t, []string{GrantPassword, GrantRefresh, GrantPassword}, p.seen())
}

func TestToken_RefreshKeepsOldRefreshToken(t *testing.T) {
	p := &provider{expiresIn: 600, noRefresh: true}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	clk.advance(time.Hour)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	clk.advance(time.Hour)
	_, err = c.Token(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{GrantPassword, GrantRefresh, GrantRefresh}, p.seen())
}

func TestToken_FailureKeepsPreviousToken(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	// Inside the margin but not yet expired; the upstream is down.
	clk.advance(545 * time.Second)
	p.failAll.Store(true)
	_, err = c.Token(context.Background())
	require.Error(t, err)
	require.True(t, IsAuthError(err))

	c.mu.Lock()
	kept := c.token.AccessToken
	c.mu.Unlock()
	require.Equal(t, "password-1", kept)

	p.failAll.Store(false)
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh_token-1", tok)
}

func TestToken_RejectedPassword(t *testing.T) {
	p := &provider{}
	clk := &clock{t: baseTime}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c, err := New(Config{TokenURL: srv.URL, ClientID: "cid", ClientSecret: "secret", Username: "svc", Password: "wrong"},
		WithHTTPClient(srv.Client()), WithClock(clk.now))
	require.NoError(t, err)

	_, err = c.Token(context.Background())
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, GrantPassword, ae.Grant)
	require.Equal(t, http.StatusUnauthorized, ae.Status)
	require.Contains(t, ae.Error(), "bad user")
}

func TestToken_MissingCredentials(t *testing.T) {
	c, err := New(Config{TokenURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Token(context.Background())
	require.True(t, IsAuthError(err))
}

func TestNew_RequiresTokenURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

// --- Single flight ---

func TestToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	p := &provider{expiresIn: 600, delay: 50 * time.Millisecond}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "password-1", tokens[i])
	}
	require.Len(t, p.seen(), 1)
}

func TestToken_CancelledCallerReturnsContextError(t *testing.T) {
	p := &provider{expiresIn: 600, delay: 100 * time.Millisecond}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Token(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared exchange still completes for the next caller.
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password-1", tok)
}

// --- Invalidation ---

func TestInvalidate(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	c := newCache(t, p, clk)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)

	c.Invalidate("someone-else")
	again, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, tok, again, "invalidating a different token is a no-op")

	c.Invalidate(tok)
	fresh, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh_token-1", fresh)
}

// --- Shared store ---

type memStore struct {
	mu    sync.Mutex
	tok   *Token
	saves int
}

func (m *memStore) Load(context.Context) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil {
		return nil, nil
	}
	cp := *m.tok
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = &tok
	m.saves++
	return nil
}

func TestToken_SharedStore(t *testing.T) {
	p := &provider{expiresIn: 600}
	clk := &clock{t: baseTime}
	st := &memStore{tok: &Token{AccessToken: "shared", Expiry: baseTime.Add(time.Hour)}}
	c := newCache(t, p, clk, WithStore(st))

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "shared", tok)
	require.Empty(t, p.seen())

	// A rejected shared token is not adopted again.
	c.Invalidate("shared")
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "password-1", tok)
	require.Equal(t, 1, st.saves)
	require.Equal(t, "password-1", st.tok.AccessToken)
}

func TestTokenValidAt(t *testing.T) {
	tok := &Token{AccessToken: "a", Expiry: baseTime.Add(2 * time.Minute)}
	require.True(t, tok.ValidAt(baseTime, time.Minute))
	require.False(t, tok.ValidAt(baseTime.Add(time.Minute), time.Minute))
	require.False(t, (*Token)(nil).ValidAt(baseTime, 0))
	require.False(t, (&Token{Expiry: baseTime.Add(time.Hour)}).ValidAt(baseTime, 0))
}
