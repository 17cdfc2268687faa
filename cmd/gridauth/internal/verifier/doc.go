// Package verifier checks credentials against the user directory and, for delegated
// logins, an external OIDC provider.
//
// Cache implements iam.Verifier. Each trust domain maps to one directory realm and
// optionally one CodeRedeemer. Directory lookups are cached per domain in an LRU
// keyed by the case-folded unqualified username; Flush drops an entry so the next
// verification reads the directory again.
//
// Providers whose principal is cached are registered for auto-refresh. Serve
// periodically re-reads their accounts so a disabled or deleted account stops
// verifying without waiting for the cache entry to age out.
package verifier
