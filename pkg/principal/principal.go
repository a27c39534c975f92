// Package principal carries the authenticated actor through request context.
//
// Authentication itself happens upstream (gateway / identity provider); this
// package trusts the verified identity headers it is handed and makes the
// resulting Principal available to every component that records or authorizes
// an operation.
package principal

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Principal is the verified actor performing an operation.
type Principal struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// contextKey is the type for context keys to prevent collisions
type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the principal from context. The second return value
// reports whether a principal was present.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID retrieves the request ID from context, or "" if unset.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Header names populated by the authenticating reverse proxy.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-User-Role"
)

// Middleware extracts the verified identity headers plus request provenance
// and stamps a Principal and a request ID into the request context. Requests
// without an identity header are rejected with 401; this service never sees
// unauthenticated traffic in a correct deployment.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}

		p := Principal{
			UserID:    userID,
			Role:      r.Header.Get(HeaderRole),
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = WithRequestID(ctx, uuid.NewString())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP extracts the client IP from the request, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
