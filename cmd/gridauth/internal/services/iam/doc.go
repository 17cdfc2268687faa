// Package iam resolves the authenticated principal for HTTP requests.
//
// It provides:
//
//   - Resolver: the ordered authentication chain (cache, token, Basic, code, pass-through)
//   - PrincipalCache: per-session, per-trust-domain cache of verified principals
//   - Verifier, SessionStore, CredentialStore: the collaborators the chain depends on
//   - Service: facade used by the HTTP middleware and the outcome decider
//
// Request Flow:
//
//	Request → AuthenticationMiddleware → Service.Resolve() → Resolution
//	       ↓
//	   Decider.Decide(Resolution) → continue / redirect / 401 / logout complete
//
// A principal is verified once per session and trust domain and reused until the
// session expires, the user logs out, or Basic credentials for a different user arrive.
// Cached principals have background credential refresh enabled; eviction disables it
// and flushes the verifier's credential cache before returning.
package iam
