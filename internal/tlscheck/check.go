package tlscheck

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/url"
	"sync"
	"time"
)

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// ExpiringWithin is the window in which a certificate counts as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

const dialTimeout = 10 * time.Second

// Status describes the leaf certificate presented by one endpoint.
type Status struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	NotAfter string `json:"notAfter,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	DaysLeft int    `json:"daysLeft"`
}

// Check dials endpoint and reports on its leaf certificate. It returns nil
// for non-HTTPS or unparseable endpoints.
func Check(ctx context.Context, endpoint string, insecure bool) *Status {
	return checkAt(ctx, endpoint, insecure, time.Now())
}

func checkAt(ctx context.Context, endpoint string, insecure bool, now time.Time) *Status {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	st := &Status{Endpoint: endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // user-configured
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		st.Status = StatusUnreachable
		return st
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		st.Status = StatusUnreachable
		return st
	}

	leaf := certs[0]
	left := leaf.NotAfter.Sub(now)
	st.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	st.Issuer = leaf.Issuer.CommonName
	st.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		st.Status = StatusExpired
	case left <= ExpiringWithin:
		st.Status = StatusExpiring
	default:
		st.Status = StatusValid
	}
	return st
}

// Monitor re-checks a fixed set of endpoints on an interval and keeps the
// latest results for readers.
type Monitor struct {
	endpoints []string
	insecure  bool
	interval  time.Duration

	mu     sync.RWMutex
	latest []Status
}

// NewMonitor returns a Monitor for endpoints. Duplicate and non-HTTPS
// endpoints are dropped at check time.
func NewMonitor(endpoints []string, insecure bool, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Monitor{endpoints: endpoints, insecure: insecure, interval: interval}
}

// Refresh checks every endpoint once and replaces the stored results.
func (m *Monitor) Refresh(ctx context.Context) {
	seen := make(map[string]bool, len(m.endpoints))
	var out []Status
	for _, ep := range m.endpoints {
		if seen[ep] {
			continue
		}
		seen[ep] = true
		st := Check(ctx, ep, m.insecure)
		if st == nil {
			continue
		}
		if st.Status != StatusValid {
			slog.Warn("tlscheck: upstream certificate needs attention",
				"endpoint", st.Endpoint, "status", st.Status, "days_left", st.DaysLeft)
		}
		out = append(out, *st)
	}
	m.mu.Lock()
	m.latest = out
	m.mu.Unlock()
}

// Run refreshes immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Refresh(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Refresh(ctx)
		}
	}
}

// Latest returns a copy of the most recent results.
func (m *Monitor) Latest() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Status(nil), m.latest...)
}
