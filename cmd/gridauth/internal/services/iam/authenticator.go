package iam

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// CredentialShape identifies which kind of credential a resolution attempt carries.
type CredentialShape int

const (
	ShapeNone CredentialShape = iota
	// ShapeExplicit is a username and password.
	ShapeExplicit
	// ShapePassthrough is a username plus an identity the transport already trusts.
	ShapePassthrough
	// ShapeCode is an opaque delegated authorization code.
	ShapeCode
)

// Credentials carries exactly one credential shape per resolution attempt.
type Credentials struct {
	Username string
	Password string
	Trusted  *auth.AmbientIdentity
	Code     string
}

// Shape reports the active credential shape.
func (c Credentials) Shape() CredentialShape {
	switch {
	case c.Code != "":
		return ShapeCode
	case c.Trusted != nil:
		return ShapePassthrough
	case c.Username != "":
		return ShapeExplicit
	default:
		return ShapeNone
	}
}

// ProviderRequest asks the verifier for a provider handle. The embedded Credentials
// decide which kind of provider is created.
type ProviderRequest struct {
	Credentials
	// State is the opaque value the identity provider echoed back with Code.
	State string
	// ReturnURL is where a delegated flow should send the client once the code is redeemed
	// when State does not name a target.
	ReturnURL string
	// Alternate selects the alternate trust domain configuration.
	Alternate bool
}

// VerifiedResult is the outcome of a verification attempt.
type VerifiedResult struct {
	Authenticated bool
	Name          string
	Roles         []string
	// FailureDetail is operator-facing text; it is never sent to clients verbatim.
	FailureDetail string
}

// Handle is a verifier-owned provider instance bound to one identity.
type Handle interface {
	// Username is the identity the handle was created for.
	Username() string
	// RequestedRedirect returns a navigation target when the provider wants the client
	// to go elsewhere (for example after redeeming a delegated code).
	RequestedRedirect() (string, bool)
	// Roles returns the provider's current role membership. Auto-refresh updates it;
	// nil means the provider does not track roles.
	Roles() []string
	// Revoked reports whether a refresh found the account gone or disabled.
	Revoked() bool
}

// Verifier is the external credential-verification capability.
//
// EnableAutoRefresh, DisableAutoRefresh, Flush and Release are called while the
// PrincipalCache holds a shard lock and must not block.
type Verifier interface {
	// CreateProvider fails if the username cannot be resolved to a known identity source.
	CreateProvider(ctx context.Context, req ProviderRequest) (Handle, error)
	// Verify checks the handle's credentials. Failures are reported in the result.
	Verify(ctx context.Context, h Handle, password string) VerifiedResult
	EnableAutoRefresh(h Handle, alternate bool)
	DisableAutoRefresh(h Handle, alternate bool)
	// Flush drops any provider-level credential cache for name.
	Flush(name string, alternate bool)
	// Release frees resources held by a handle that will not be cached.
	Release(h Handle)
	// TranslateRedirect builds the login redirect. h may be nil; alternate selects the
	// trust domain whose login flow is used.
	TranslateRedirect(h Handle, alternate bool, loginPage string, requestURL *url.URL, encodedPath, encodedReferrer string) string
}

// SessionStore is the session-cookie collaborator.
type SessionStore interface {
	SessionIDFromCookie(r *http.Request) uuid.UUID
	TokenFromCookie(r *http.Request) string
	// ClearSessionCache drops all session state. Returns false when no session existed.
	ClearSessionCache(id uuid.UUID) bool
	// OnSessionExpired subscribes to asynchronous expiry notifications.
	OnSessionExpired(fn func(id uuid.UUID))
}

// CredentialStore resolves a credential token cookie to cached credentials.
type CredentialStore interface {
	Resolve(ctx context.Context, token string) (username, password string, ok bool, err error)
}

// ResourceClassifier classifies request paths.
type ResourceClassifier interface {
	IsAnonymous(path string) bool
	IsAlternate(path string) bool
	IsAuthFailureRedirect(path string) bool
	LogoutPage() string
	LoginPage() string
	AuthTestPage() string
}
