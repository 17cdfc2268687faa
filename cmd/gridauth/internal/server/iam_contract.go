package server

import (
	"context"
	"net/http"
	"time"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
)

// authService defines the exact IAM methods used by the router and handlers.
// iam.Service satisfies it; the assertion below keeps the two in step.
type authService interface {
	Resolve(r *http.Request) *iam.Resolution
	Release(res *iam.Resolution)
	CachedPrincipals() int
}

var _ authService = (iam.Service)(nil)

// loginVerifier checks form-login credentials. verifier.Cache satisfies it.
type loginVerifier interface {
	CreateProvider(ctx context.Context, req iam.ProviderRequest) (iam.Handle, error)
	Verify(ctx context.Context, h iam.Handle, password string) iam.VerifiedResult
	Release(h iam.Handle)
}

// credentialIssuer stores verified credentials behind an opaque token.
// Both session credential stores satisfy it.
type credentialIssuer interface {
	Issue(ctx context.Context, username, password string) (string, error)
	TTL() time.Duration
}

// cacheAdmin is the verifier maintenance surface exposed to administrators.
type cacheAdmin interface {
	FlushAll()
	Refresh(ctx context.Context) int
	Refreshing() int
}
