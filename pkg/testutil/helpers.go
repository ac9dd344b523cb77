package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// NewHTTPRequest creates a new HTTP request for testing handlers
func NewHTTPRequest(method, path string, body interface{}) *http.Request {
	var bodyReader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			bodyReader = bytes.NewBufferString(b)
		default:
			bodyReader = bytes.NewReader(MustJSONBytes(body))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithUserHeaders adds the gateway identity headers to a request
func WithUserHeaders(req *http.Request, userID, role string) *http.Request {
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Role", role)
	return req
}

// ExecuteRequest executes a request against a handler and returns the recorder
func ExecuteRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// ParseJSONBody parses the response body into target
func ParseJSONBody(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), "body: %s", rr.Body.String())
}

// RequireEventually polls condition until it holds or the timeout expires
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msg string) {
	t.Helper()
	require.Eventually(t, condition, timeout, interval, msg)
}

// SkipIfShort skips container-backed tests under -short
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// SkipIfCI skips tests that need docker when CI disables it
func SkipIfCI(t *testing.T) {
	t.Helper()
	if os.Getenv("CI") != "" && os.Getenv("TESTCONTAINERS_ENABLED") == "" {
		t.Skip("skipping container test in CI")
	}
}

// MustJSONBytes marshals v or panics
func MustJSONBytes(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Dec parses a decimal literal or panics
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// PtrString returns a pointer to s
func PtrString(s string) *string {
	return &s
}
