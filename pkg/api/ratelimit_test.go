package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emohunter/trustanchor/pkg/api"
)

func rateLimitedHandler(cfg api.RateLimitConfig) http.Handler {
	return api.NewRateLimiter(cfg).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doRequest(handler http.Handler, method, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/trust/commit", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterCommitBudget(t *testing.T) {
	handler := rateLimitedHandler(api.RateLimitConfig{
		CommitRPS: 1, CommitBurst: 1,
		ReadRPS: 50, ReadBurst: 50,
	})

	first := doRequest(handler, http.MethodPost, "198.51.100.1:4000")
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(handler, http.MethodPost, "198.51.100.1:4000")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
}

func TestRateLimiterReadBudgetIndependent(t *testing.T) {
	handler := rateLimitedHandler(api.RateLimitConfig{
		CommitRPS: 1, CommitBurst: 1,
		ReadRPS: 50, ReadBurst: 50,
	})

	// Exhaust the commit bucket; reads keep flowing from their own.
	doRequest(handler, http.MethodPost, "198.51.100.1:4000")
	blocked := doRequest(handler, http.MethodPost, "198.51.100.1:4000")
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)

	read := doRequest(handler, http.MethodGet, "198.51.100.1:4000")
	assert.Equal(t, http.StatusOK, read.Code)
}

func TestRateLimiterPerClient(t *testing.T) {
	handler := rateLimitedHandler(api.RateLimitConfig{
		CommitRPS: 1, CommitBurst: 1,
		ReadRPS: 1, ReadBurst: 1,
	})

	first := doRequest(handler, http.MethodPost, "198.51.100.1:4000")
	require.Equal(t, http.StatusOK, first.Code)
	samePort := doRequest(handler, http.MethodPost, "198.51.100.1:4001")
	assert.Equal(t, http.StatusTooManyRequests, samePort.Code, "budget is per IP, not per port")

	other := doRequest(handler, http.MethodPost, "203.0.113.9:4000")
	assert.Equal(t, http.StatusOK, other.Code, "a different client gets its own budget")
}
