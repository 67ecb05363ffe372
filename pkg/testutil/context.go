package testutil

import (
	"net/http"
	"time"

	id "grove/pkg/domain"
	"grove/pkg/requestcontext"
)

// WithAuth adds user ID and session ID to the request context, simulating
// what the bearer-auth middleware does for authenticated requests. Invalid
// IDs are silently ignored.
func WithAuth(req *http.Request, userID, sessionID string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		if parsed, err := id.ParseUserID(userID); err == nil {
			ctx = requestcontext.WithUserID(ctx, parsed)
		}
	}
	if sessionID != "" {
		if parsed, err := id.ParseSessionID(sessionID); err == nil {
			ctx = requestcontext.WithSessionID(ctx, parsed)
		}
	}
	return req.WithContext(ctx)
}

// WithClientMetadata adds a client IP and User-Agent to the request context.
func WithClientMetadata(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// WithFixedTime pins the request-scoped clock.
func WithFixedTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
