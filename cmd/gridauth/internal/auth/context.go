package auth

import (
	"context"

	"github.com/google/uuid"
)

// AmbientIdentity is an identity the transport layer established before authentication
// began, for example a user asserted by a trusted reverse proxy performing integrated
// authentication. The core treats it as opaque input.
type AmbientIdentity struct {
	// Name is the authority-qualified account name (e.g., CORP\alice).
	Name string
	// AuthType names the mechanism that produced the identity (e.g., Negotiate).
	AuthType string
}

type ambientIdentityContextKey struct{}

// SetAmbientIdentity stores the transport-supplied identity on the context.
func SetAmbientIdentity(ctx context.Context, identity AmbientIdentity) context.Context {
	return context.WithValue(ctx, ambientIdentityContextKey{}, identity)
}

// AmbientIdentityFromContext retrieves the transport-supplied identity, if any.
func AmbientIdentityFromContext(ctx context.Context) (*AmbientIdentity, bool) {
	identity, ok := ctx.Value(ambientIdentityContextKey{}).(AmbientIdentity)
	if !ok || identity.Name == "" {
		return nil, false
	}
	return &identity, true
}

type sessionIDContextKey struct{}

// SetSessionID records the session the request is bound to. uuid.Nil marks a request whose
// session cookie named a session that has already ended.
func SetSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// SessionIDFromContext returns the session recorded by SetSessionID.
func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionIDContextKey{}).(uuid.UUID)
	return id, ok
}
