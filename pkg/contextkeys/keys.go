// Package contextkeys provides centralized context key definitions
//
// All per-request values the gateway pipeline threads through a request context are
// declared here, together with typed accessors. Stages never read each other's values
// through untyped lookups.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/turnstile/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, ok := contextkeys.GetIdentity(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the correlation id
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, upstream forwarding
	// Type: string
	RequestIDKey Key = "request_id"

	// IdentityKey contains the authenticated caller
	// Set by: middleware.AuthMiddleware after a bearer token verifies
	// Used by: Logger, upstream forwarding
	// Type: auth.UserIdentity
	IdentityKey Key = "identity"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithIdentity attaches the authenticated caller to the context
func WithIdentity(ctx context.Context, identity auth.UserIdentity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity retrieves the authenticated caller. ok is false for unauthenticated requests.
func GetIdentity(ctx context.Context) (identity auth.UserIdentity, ok bool) {
	identity, ok = ctx.Value(IdentityKey).(auth.UserIdentity)
	return identity, ok
}
