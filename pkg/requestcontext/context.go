// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets values; services read them. Keeping this package free of
// net/http lets services import only what they need.
//
// Usage in services (read values):
//
//	userID := requestcontext.UserID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithDeviceAttributes(ctx, attrs)
package requestcontext

import (
	"context"
	"time"
)

type (
	userIDKey           struct{}
	userEmailKey        struct{}
	deviceAttributesKey struct{}
	requestIDKey        struct{}
	requestTimeKey      struct{}
)

// UserID retrieves the authenticated user ID from the context. Identity is an
// optional input; the empty string means anonymous.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithUserID injects a user ID into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserEmail retrieves the authenticated user's email from the context.
func UserEmail(ctx context.Context) string {
	if email, ok := ctx.Value(userEmailKey{}).(string); ok {
		return email
	}
	return ""
}

// WithUserEmail injects a user email into the context.
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey{}, email)
}

// DeviceAttributes retrieves the client environment attributes collected by
// the transport layer (user agent, platform, locale, screen, timezone,
// color depth). Returns nil when none were captured.
func DeviceAttributes(ctx context.Context) map[string]string {
	if attrs, ok := ctx.Value(deviceAttributesKey{}).(map[string]string); ok {
		return attrs
	}
	return nil
}

// WithDeviceAttributes injects device attributes into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithDeviceAttributes(ctx context.Context, attrs map[string]string) context.Context {
	return context.WithValue(ctx, deviceAttributesKey{}, attrs)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (workers, tests that don't inject one).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Tests use this to pin the
// clock; batch operations use it for a consistent timestamp.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
