// Package requestcontext carries per-request values (request id, principal, clock)
// through context.Context without leaking transport types into services.
package requestcontext

import (
	"context"
	"time"

	id "qcgate/pkg/domain"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
	nowKey       contextKey = "now"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id or "" when none was set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func WithPrincipal(ctx context.Context, p id.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal stored by the auth middleware.
func GetPrincipal(ctx context.Context) (id.Principal, bool) {
	p, ok := ctx.Value(principalKey).(id.Principal)
	return p, ok
}

// WithTime pins the clock for the request. Tests use it to make timestamps deterministic.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, nowKey, t)
}

// Now returns the pinned request time, or time.Now in UTC.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
