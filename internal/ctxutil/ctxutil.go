// Package ctxutil provides shared context key accessors.
//
// Both tiers bind the correlation id and (on the edge) the verified caller
// into the request context; rpc, edge, and engine all read them through
// this package instead of importing each other.
package ctxutil

import (
	"context"

	"github.com/haggle-ai/haggle/internal/sigcheck"
)

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyCaller    contextKey = "caller"
)

// WithRequestID returns a new context carrying the correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the correlation id, or "" if unset.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithCaller returns a new context carrying the verified caller.
func WithCaller(ctx context.Context, caller sigcheck.VerifiedCaller) context.Context {
	return context.WithValue(ctx, keyCaller, caller)
}

// CallerFromContext extracts the verified caller. The second return is
// false when the request did not pass signature verification.
func CallerFromContext(ctx context.Context) (sigcheck.VerifiedCaller, bool) {
	v, ok := ctx.Value(keyCaller).(sigcheck.VerifiedCaller)
	return v, ok
}
