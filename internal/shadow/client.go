package shadow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBody bounds how much of a response is read.
	maxBody = 4 << 20

	// detailLimit bounds how much of a bad body is echoed into errors.
	detailLimit = 512
)

// Query is the GraphQL document sent for every fetch.
const Query = `query($deviceid:String!){ shadow(deviceid:$deviceid){ deviceid data rev modified } }`

// Config configures a Client.
type Config struct {
	// Endpoint is the GraphQL URL.
	Endpoint string

	// Timeout bounds a single request. Zero means 10s.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Client fetches device shadows. It is safe for concurrent use.
type Client struct {
	endpoint string
	client   *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("shadow: endpoint is required")
	}
	return &Client{endpoint: cfg.Endpoint, client: buildHTTPClient(cfg)}, nil
}

// NewWithHTTPClient returns a Client that sends requests through hc.
func NewWithHTTPClient(endpoint string, hc *http.Client) *Client {
	return &Client{endpoint: endpoint, client: hc}
}

// buildHTTPClient constructs the http.Client used for shadow queries.
func buildHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
		Timeout:   timeout,
	}
}

// Snapshot is one decoded shadow document.
type Snapshot struct {
	DeviceID string `json:"deviceId"`

	// Data is the raw data object as returned by the service.
	Data json.RawMessage `json:"data"`

	// Values is Data decoded as a flat map. Numbers stay json.Number.
	Values map[string]any `json:"-"`

	Rev       any       `json:"rev,omitempty"`
	Modified  any       `json:"modified,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Lookup returns the value stored under key. An exact top-level match wins;
// otherwise a key containing "." is resolved as a path into Data. Null values
// are reported as absent.
func (s *Snapshot) Lookup(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if v, ok := s.Values[key]; ok {
		return v, v != nil
	}
	if !strings.Contains(key, ".") || len(s.Data) == 0 {
		return nil, false
	}
	r := gjson.GetBytes(s.Data, key)
	switch r.Type {
	case gjson.Number:
		return json.Number(r.Raw), true
	case gjson.String:
		return r.Str, true
	case gjson.True, gjson.False:
		return r.Bool(), true
	case gjson.JSON:
		return r.Value(), true
	default:
		return nil, false
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data *struct {
		Shadow *struct {
			DeviceID string          `json:"deviceid"`
			Data     json.RawMessage `json:"data"`
			Rev      any             `json:"rev"`
			Modified any             `json:"modified"`
		} `json:"shadow"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Fetch retrieves the shadow for externalID using bearer as the credential.
func (c *Client) Fetch(ctx context.Context, externalID, bearer string) (*Snapshot, error) {
	body, err := json.Marshal(gqlRequest{
		Query:     Query,
		Variables: map[string]any{"deviceid": externalID},
	})
	if err != nil {
		return nil, &FetchError{Detail: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode, Detail: truncate(raw)}
	}

	var gql gqlResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "invalid json: " + truncate(raw), Err: err}
	}
	if len(gql.Errors) > 0 && string(gql.Errors) != "null" {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "graphql errors: " + truncate(gql.Errors)}
	}
	if gql.Data == nil || gql.Data.Shadow == nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "shadow not found"}
	}

	data, values, err := decodeData(gql.Data.Shadow.Data)
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: err.Error()}
	}

	id := gql.Data.Shadow.DeviceID
	if id == "" {
		id = externalID
	}
	return &Snapshot{
		DeviceID:  id,
		Data:      data,
		Values:    values,
		Rev:       gql.Data.Shadow.Rev,
		Modified:  gql.Data.Shadow.Modified,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// decodeData accepts the data field either as an object or as a string
// holding an encoded object, and rejects null, non-object and empty values.
func decodeData(raw json.RawMessage) (json.RawMessage, map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil, errors.New("shadow data is null")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, nil, fmt.Errorf("shadow data: %w", err)
		}
		trimmed = bytes.TrimSpace([]byte(s))
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, errors.New("shadow data is not an object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, nil, fmt.Errorf("shadow data: %w", err)
	}
	if len(values) == 0 {
		return nil, nil, errors.New("shadow data is empty")
	}
	return json.RawMessage(trimmed), values, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > detailLimit {
		return s[:detailLimit] + "..."
	}
	return s
}
