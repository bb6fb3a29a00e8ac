// Package ratelimit provides a fixed-window request counter keyed by caller
// identity.
//
// The window is wall-clock aligned: all requests with the same floor(now/W)
// share a bucket, and the bucket vanishes at the next window boundary. The
// production implementation is Redis-backed so the count is shared across
// edge replicas; an in-memory limiter with identical semantics exists for
// single-process development.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Remaining int       // admissions left in the current window
	ResetAt   time.Time // next window boundary
}

// Limiter decides whether a request identified by key should be admitted.
// Implementations must be safe for concurrent use. An error signals a
// limiter malfunction; callers must fail open (admit the request) rather
// than turning a cache outage into a denial of service.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Close() error
}

// NoopLimiter admits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always admits.
func (NoopLimiter) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true, Remaining: -1}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// windowStart aligns t down to the current window boundary.
func windowStart(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window)
}
