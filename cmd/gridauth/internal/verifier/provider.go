package verifier

import (
	"sync"
	"time"
)

// Provider is the handle the verifier hands out for one identity.
type Provider struct {
	username  string
	realm     string
	alternate bool
	trusted   bool
	delegated bool

	mu          sync.Mutex
	roles       []string
	redirect    string
	revoked     bool
	released    bool
	refreshedAt time.Time
}

// Username is the identity the provider was created for.
func (p *Provider) Username() string {
	return p.username
}

// Alternate reports whether the provider belongs to the alternate trust domain.
func (p *Provider) Alternate() bool {
	return p.alternate
}

// RequestedRedirect returns the post-login navigation target once. Later calls report
// no redirect so a cached principal does not keep bouncing the client.
func (p *Provider) RequestedRedirect() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.redirect
	p.redirect = ""
	return target, target != ""
}

// Revoked reports whether a refresh found the account gone or disabled.
func (p *Provider) Revoked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked
}

// RefreshedAt returns when the account was last re-read in the background.
func (p *Provider) RefreshedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshedAt
}

func (p *Provider) setRoles(roles []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles = append([]string(nil), roles...)
}

// Roles returns the account's current roles, including any applied by a refresh.
func (p *Provider) Roles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(make([]string, 0, len(p.roles)), p.roles...)
}

func (p *Provider) markRefreshed(at time.Time, roles []string, revoked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshedAt = at
	p.revoked = revoked
	if !revoked {
		p.roles = append([]string(nil), roles...)
	}
}

func (p *Provider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	p.redirect = ""
}
