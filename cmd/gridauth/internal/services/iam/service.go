package iam

import (
	"net/http"

	"github.com/google/uuid"
)

// Service provides the authentication operations used on the request path.
//
// This service centralizes:
//   - Resolution (request path - performance critical)
//   - Logout (flushes cached principals, then session state)
//   - Session-expiry eviction (out-of-band, driven by the session store)
type Service interface {
	// =========================================================================
	// Authentication (Request Path - Performance Critical)
	// =========================================================================

	// Resolve walks the authentication chain for the request.
	//
	// The result is memoized per request: when the request context already carries
	// a Resolution (see WithResolution) it is returned unchanged and no credential is
	// re-verified.
	//
	// Never returns nil. A request without valid credentials yields a Resolution whose
	// Principal is nil.
	Resolve(r *http.Request) *Resolution

	// Release frees the provider of a principal that was served without being cached
	// (no session, or the session was evicted during verification). Call once the
	// request has been handled; it is a no-op for cached principals.
	Release(res *Resolution)

	// =========================================================================
	// Session Lifecycle
	// =========================================================================

	// Logout flushes the session's cached principals in both trust domains and then
	// clears the session store entry.
	//
	// Returns false when neither a cached principal nor session state existed, so a
	// repeated logout is reported as "no session" and has no further effect.
	Logout(sessionID uuid.UUID) bool

	// EvictSession removes the session's cached principals in both trust domains.
	// Subscribed to session-expiry notifications by the constructor.
	EvictSession(sessionID uuid.UUID) bool

	// =========================================================================
	// Cache Management
	// =========================================================================

	// CachedPrincipals returns the number of cached (session, domain) entries.
	CachedPrincipals() int

	// Close evicts all cached principals so no provider keeps refreshing.
	Close()
}
