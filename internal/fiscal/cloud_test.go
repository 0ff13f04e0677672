package fiscal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/circuitbreaker"
	"github.com/gastroline/backoffice/internal/retry"
)

func TestNewCloudClientResolvesRegion(t *testing.T) {
	_, err := NewCloudClient(CloudConfig{Region: "FR", Environment: "test"})
	assert.Error(t, err, "unknown region")

	_, err = NewCloudClient(CloudConfig{Region: "DE", Environment: "staging"})
	assert.Error(t, err, "unknown environment")

	c, err := NewCloudClient(CloudConfig{Region: "AT", Environment: "production"})
	require.NoError(t, err)
	assert.Equal(t, "https://rksv.fiskaly.com/api/v1", c.baseURL)
}

// newTestCloudClient points a real client at a local server.
func newTestCloudClient(t *testing.T, handler http.Handler) *CloudClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewCloudClient(CloudConfig{
		APIKey:      "key",
		APISecret:   "secret",
		Region:      "DE",
		Environment: "test",
		Timeout:     2 * time.Second,
	})
	require.NoError(t, err)
	c.baseURL = srv.URL
	return c
}

func TestCloudClientAuthenticatesAndCachesToken(t *testing.T) {
	var authCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "key", creds["api_key"])
		json.NewEncoder(w).Encode(authResponse{AccessToken: "tok-1", ExpiresIn: 3600})
	})
	mux.HandleFunc("GET /tss/tss-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(TssInfo{ID: "tss-1", State: "INITIALIZED"})
	})

	c := newTestCloudClient(t, mux)
	ctx := context.Background()

	info, err := c.GetTss(ctx, "tss-1")
	require.NoError(t, err)
	assert.Equal(t, "INITIALIZED", info.State)

	// The cached token covers the second call
	_, err = c.GetTss(ctx, "tss-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, authCalls.Load())
}

func TestCloudClientReauthenticatesNearExpiry(t *testing.T) {
	var authCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		// expires inside the re-auth window, forcing a fresh login next call
		json.NewEncoder(w).Encode(authResponse{AccessToken: "tok", ExpiresIn: 60})
	})
	mux.HandleFunc("GET /tss/tss-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TssInfo{ID: "tss-1"})
	})

	c := newTestCloudClient(t, mux)
	ctx := context.Background()

	_, err := c.GetTss(ctx, "tss-1")
	require.NoError(t, err)
	_, err = c.GetTss(ctx, "tss-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, authCalls.Load())
}

func TestCloudClientClassifiesStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authResponse{AccessToken: "tok", ExpiresIn: 3600})
	})
	mux.HandleFunc("GET /tss/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("GET /tss/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown tss", http.StatusBadRequest)
	})

	c := newTestCloudClient(t, mux)
	ctx := context.Background()

	_, err := c.GetTss(ctx, "forbidden")
	require.Error(t, err)
	assert.True(t, retry.IsTerminal(err), "auth failures are definitive, no retry")

	_, err = c.GetTss(ctx, "bad")
	require.Error(t, err)
	assert.False(t, retry.IsTerminal(err))
	assert.False(t, retry.IsRetryable(err), "client errors are not auto-retried")
	assert.Contains(t, err.Error(), "unknown tss")
}

func TestCloudClientBreakerOpensAfterRepeatedFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authResponse{AccessToken: "tok", ExpiresIn: 3600})
	})
	mux.HandleFunc("GET /tss/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c := newTestCloudClient(t, mux)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetTss(ctx, "down")
		require.Error(t, err)
		require.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}

	_, err := c.GetTss(ctx, "down")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen, "the tss endpoint breaker tripped")
}
