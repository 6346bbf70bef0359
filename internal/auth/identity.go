// Package auth holds the authentication service implementations: JWT
// issuing and verification, and a static session whose identity can be
// swapped at runtime.
package auth

import "context"

// Identity is an authenticated principal.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored on ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity
}
