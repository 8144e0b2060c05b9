package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestClient starts srv and returns a Client pointed at it.
func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(srv.URL, srv.Client())
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const okBody = `{"data":{"shadow":{"deviceid":"nx-1","rev":7,"modified":1767225600000,
	"data":{"Light_out":812.5,"Soil_moisture":"41","weather":{"par":640}}}}}`

// --- Success ---

func TestFetch_Success(t *testing.T) {
	var got gqlRequest
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, okBody)
	})

	snap, err := c.Fetch(context.Background(), "nx-1", "tok-abc")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if auth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Variables["deviceid"] != "nx-1" {
		t.Errorf("variables = %v", got.Variables)
	}
	if !strings.Contains(got.Query, "shadow(deviceid:$deviceid)") {
		t.Errorf("query = %q", got.Query)
	}
	if snap.DeviceID != "nx-1" {
		t.Errorf("DeviceID = %q", snap.DeviceID)
	}

	v, ok := snap.Lookup("Light_out")
	if !ok || v != json.Number("812.5") {
		t.Errorf("Lookup(Light_out) = %v, %v", v, ok)
	}
	v, ok = snap.Lookup("weather.par")
	if !ok || v != json.Number("640") {
		t.Errorf("Lookup(weather.par) = %v, %v", v, ok)
	}
	if _, ok := snap.Lookup("weather.missing"); ok {
		t.Error("Lookup(weather.missing) should be absent")
	}
	if _, ok := snap.Lookup("nope"); ok {
		t.Error("Lookup(nope) should be absent")
	}
}

func TestFetch_StringEncodedData(t *testing.T) {
	c := newTestClient(t, reply(200, `{"data":{"shadow":{"deviceid":"d","data":"{\"t\":21}"}}}`))
	snap, err := c.Fetch(context.Background(), "d", "x")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v, ok := snap.Lookup("t"); !ok || v != json.Number("21") {
		t.Errorf("Lookup(t) = %v, %v", v, ok)
	}
}

func TestSnapshot_NullValueIsAbsent(t *testing.T) {
	c := newTestClient(t, reply(200, `{"data":{"shadow":{"data":{"a":null,"b":1}}}}`))
	snap, err := c.Fetch(context.Background(), "d", "x")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, ok := snap.Lookup("a"); ok {
		t.Error("null value should be reported absent")
	}
	if snap.DeviceID != "d" {
		t.Errorf("DeviceID fallback = %q, want d", snap.DeviceID)
	}
}

// --- Failures ---

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantDetail string
	}{
		{"server error", 500, `{"message":"boom"}`, 500, "boom"},
		{"unauthorized", 401, `unauthorized`, 401, "unauthorized"},
		{"non json", 200, `<html>oops</html>`, 200, "invalid json"},
		{"graphql errors", 200, `{"errors":[{"message":"bad device"}],"data":null}`, 200, "bad device"},
		{"null shadow", 200, `{"data":{"shadow":null}}`, 200, "shadow not found"},
		{"missing data", 200, `{}`, 200, "shadow not found"},
		{"null data", 200, `{"data":{"shadow":{"data":null}}}`, 200, "null"},
		{"empty data", 200, `{"data":{"shadow":{"data":{}}}}`, 200, "empty"},
		{"array data", 200, `{"data":{"shadow":{"data":[1,2]}}}`, 200, "not an object"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, reply(tc.status, tc.body))
			_, err := c.Fetch(context.Background(), "d", "x")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if fe.Status != tc.wantStatus {
				t.Errorf("Status = %d, want %d", fe.Status, tc.wantStatus)
			}
			if !strings.Contains(err.Error(), tc.wantDetail) {
				t.Errorf("error %q does not mention %q", err, tc.wantDetail)
			}
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewWithHTTPClient(url, http.DefaultClient).Fetch(context.Background(), "d", "x")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != 0 {
		t.Fatalf("err = %v, want FetchError with no status", err)
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !IsUnauthorized(&FetchError{Status: 401}) {
		t.Error("401 should be unauthorized")
	}
	if IsUnauthorized(&FetchError{Status: 500}) {
		t.Error("500 should not be unauthorized")
	}
	if IsUnauthorized(errors.New("x")) {
		t.Error("plain error should not be unauthorized")
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() with empty endpoint should fail")
	}
}
