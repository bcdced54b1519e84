// ABOUTME: Caller identity carried through request handlers via context
// ABOUTME: Provides WithIdentity/FromContext for the HTTP and WebSocket paths

package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller extracted from a token
type Identity struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Subject returns the caller subject, or "anonymous" when auth is disabled
func Subject(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.Subject
	}
	return "anonymous"
}
