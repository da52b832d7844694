package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiterClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRateLimiterAllow(t *testing.T) {
	client, _ := newLimiterClient(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// other keys are unaffected
	allowed, err = limiter.Allow(ctx, "ip:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterWindowReset(t *testing.T) {
	client, mr := newLimiterClient(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterRemaining(t *testing.T) {
	client, _ := newLimiterClient(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)

	remaining, err = limiter.Remaining(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestRateLimitMiddlewareHeaders(t *testing.T) {
	client, _ := newLimiterClient(t)
	m := NewRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddlewareKeysByAddress(t *testing.T) {
	client, _ := newLimiterClient(t)
	m := NewRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// a bearer token does not change the bucket; the limiter runs before
	// authentication and trusts only the client address
	req := httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))

	req = httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "98", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestAuthEndpointLimiterBlocks(t *testing.T) {
	client, _ := newLimiterClient(t)
	handler := AuthEndpointLimiter(client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, lastCode)

	// a different address still gets through
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.9:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client, mr := newLimiterClient(t)
	m := NewRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
