package iam

import (
	"sort"
	"strings"
)

// TrustDomain selects one of two independent verification and cache contexts.
type TrustDomain int

const (
	// TrustDomainPrimary is the default verification context.
	TrustDomainPrimary TrustDomain = iota
	// TrustDomainAlternate is selected per request by routing context.
	TrustDomainAlternate
)

// Alternate reports whether this is the alternate trust domain.
func (d TrustDomain) Alternate() bool {
	return d == TrustDomainAlternate
}

func (d TrustDomain) String() string {
	if d == TrustDomainAlternate {
		return "alternate"
	}
	return "primary"
}

// TrustDomainOf maps the verifier's boolean flag back to a TrustDomain.
func TrustDomainOf(alternate bool) TrustDomain {
	if alternate {
		return TrustDomainAlternate
	}
	return TrustDomainPrimary
}

// RoleSet is a case-insensitive set of role names. Names keep the spelling they were
// first added with.
type RoleSet map[string]string

// NewRoleSet builds a RoleSet from role names, ignoring blanks.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		key := strings.ToLower(role)
		if _, exists := set[key]; !exists {
			set[key] = role
		}
	}
	return set
}

// Has reports role membership, ignoring case.
func (s RoleSet) Has(role string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Sorted returns the role names in case-insensitive lexical order.
func (s RoleSet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = s[key]
	}
	return out
}

// Principal is a resolved identity.
//
// A Principal is IMMUTABLE after construction. The Provider handle is owned by the
// Principal and reused across requests while the Principal is cached; it is the only
// part that changes (auto-refresh) and it synchronizes internally. Role checks read the
// provider's current roles so refreshed membership applies to cached principals.
type Principal struct {
	// Name is the authority-qualified identity name (e.g., CORP\alice).
	Name string

	// Authenticated is true only when the verifier accepted the credentials.
	// Unauthenticated principals are never cached.
	Authenticated bool

	// Roles is the role membership at verification time. Use CurrentRoles for checks.
	Roles RoleSet

	// Provider is the verifier handle that produced this principal.
	Provider Handle

	// Domain is the trust domain the principal was verified in.
	Domain TrustDomain
}

// CurrentRoles returns the provider's refreshed roles, or the verification-time roles
// when the provider does not track them.
func (p *Principal) CurrentRoles() RoleSet {
	if p == nil {
		return nil
	}
	if p.Provider != nil {
		if roles := p.Provider.Roles(); roles != nil {
			return NewRoleSet(roles...)
		}
	}
	return p.Roles
}

// IsInRole reports role membership.
func (p *Principal) IsInRole(role string) bool {
	return p.CurrentRoles().Has(role)
}

// Revoked reports whether auto-refresh found the principal's account gone or disabled.
func (p *Principal) Revoked() bool {
	return p != nil && p.Provider != nil && p.Provider.Revoked()
}

// RequestedRedirect returns the navigation target requested by the provider, if any.
func (p *Principal) RequestedRedirect() (string, bool) {
	if p == nil || p.Provider == nil {
		return "", false
	}
	return p.Provider.RequestedRedirect()
}

// Source identifies which step of the resolution chain produced the outcome.
type Source string

const (
	SourceNone        Source = "none"
	SourceLogout      Source = "logout"
	SourceCache       Source = "cache"
	SourceToken       Source = "token"
	SourceBasic       Source = "basic"
	SourceCode        Source = "code"
	SourcePassthrough Source = "passthrough"
)
