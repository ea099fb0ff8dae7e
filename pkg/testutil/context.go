package testutil

import (
	"net/http"
	"time"

	"iwitness/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithDeviceAttributes adds device attributes to the request context,
// simulating the device middleware.
func WithDeviceAttributes(req *http.Request, attrs map[string]string) *http.Request {
	return req.WithContext(requestcontext.WithDeviceAttributes(req.Context(), attrs))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
