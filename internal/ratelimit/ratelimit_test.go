package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle-ai/haggle/internal/testutil"
)

func TestMemoryLimiter_EnforcesLimit(t *testing.T) {
	// A long window so the test never straddles a boundary.
	m := NewMemoryLimiter(3, time.Hour)
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := m.Allow(ctx, "did:key:aa")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3-(i+1), res.Remaining)
	}

	res, err := m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.ResetAt.IsZero())
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, time.Hour)
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	res, err := m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = m.Allow(ctx, "did:key:bb")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a second caller has its own window")
}

func TestMemoryLimiter_WindowRollover(t *testing.T) {
	m := NewMemoryLimiter(1, 50*time.Millisecond)
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	res, err := m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = m.Allow(ctx, "did:key:aa")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window should admit again")
}

func TestWindowStart_Aligned(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC)
	start := windowStart(at, time.Minute)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 34, 0, 0, time.UTC), start)

	// Two instants in the same window share a start.
	assert.Equal(t, start, windowStart(at.Add(3*time.Second), time.Minute))
}

// failingLimiter simulates a broken backing store.
type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, errors.New("connection refused")
}
func (failingLimiter) Close() error { return nil }

func TestMiddleware_BlocksOverLimit(t *testing.T) {
	m := NewMemoryLimiter(2, time.Hour)
	defer func() { _ = m.Close() }()

	handler := Middleware(m, testutil.TestLogger(),
		func(*http.Request) string { return "did:key:aa" },
		func(*http.Request) string { return "req-1" },
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/negotiate", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/negotiate", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	handler := Middleware(failingLimiter{}, testutil.TestLogger(),
		func(*http.Request) string { return "did:key:aa" },
		func(*http.Request) string { return "req-1" },
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/negotiate", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "limiter outage must not reject traffic")
}

func TestMiddleware_SkipsEmptyKey(t *testing.T) {
	handler := Middleware(NewMemoryLimiter(0, time.Hour), testutil.TestLogger(),
		func(*http.Request) string { return "" },
		func(*http.Request) string { return "" },
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
