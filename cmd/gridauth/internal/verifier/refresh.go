package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
)

// Serve runs the auto-refresh loop until ctx is done.
func (c *Cache) Serve(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval, RefreshTicker)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Channel():
			c.Refresh(ctx)
		}
	}
}

func (c *Cache) String() string {
	return "verifier-refresh"
}

// Refresh re-reads the accounts of every registered provider from the directory and
// repopulates the credential cache. It returns how many providers were revoked.
//
// Directory reads happen outside the lock. Results are applied under it, and only for
// providers that are still registered, so a provider whose auto-refresh was disabled
// mid-refresh is left untouched.
func (c *Cache) Refresh(ctx context.Context) int {
	c.mu.Lock()
	providers := make([]*Provider, 0, len(c.refreshing))
	for p := range c.refreshing {
		providers = append(providers, p)
	}
	c.mu.Unlock()

	now := c.clock.Now()
	revoked := 0
	for _, p := range providers {
		if ctx.Err() != nil {
			return revoked
		}

		user, err := c.fetch(ctx, p.alternate, p.username)
		if err != nil && !errors.Is(err, ErrUnknownUser) {
			c.logger.Warn("refresh failed", "user", p.username, "error", err)
			continue
		}
		if c.applyRefresh(p, user, now) {
			revoked++
			c.logger.Info("account no longer active", "user", p.username, "realm", p.realm)
		}
	}
	return revoked
}

// applyRefresh records a refreshed account on p. user is nil when the account no longer
// exists. Reports whether p was revoked.
func (c *Cache) applyRefresh(p *Provider, user *models.User, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.refreshing[p]; !ok {
		return false
	}

	entries := c.entries[domainIndex(p.alternate)]
	if user == nil || user.Disabled() {
		entries.Remove(cacheKey(p.username))
		p.markRefreshed(now, nil, true)
		return true
	}
	entries.Add(cacheKey(p.username), user)
	p.markRefreshed(now, user.Roles, false)
	return false
}
