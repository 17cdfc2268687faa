package iam

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

const principalCacheShards = 256

type cacheKey struct {
	session uuid.UUID
	domain  TrustDomain
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[cacheKey]*Principal

	// clock advances on every eviction in this shard.
	clock uint64
	// evicted records the clock value of each session's latest eviction. Only kept while
	// an outstanding epoch older than that value could still try to insert.
	evicted map[uuid.UUID]uint64
	// outstanding counts captured epochs by clock value until they are settled.
	outstanding map[uint64]int
	closed      bool
}

// Epoch marks the point a resolution started for one session. An insert carrying an
// Epoch captured before the session's most recent eviction is refused. Every Epoch must
// be settled once the resolution is done.
type Epoch struct {
	session uuid.UUID
	value   uint64
}

// PrincipalCache maps (session, trust domain) to a previously resolved Principal.
//
// Both trust-domain entries of a session live in the same shard, so Evict removes them
// atomically with respect to each other and to InsertIfAbsent. Sessions are independent:
// evicting one session never refuses an insert for another. Entries are insert-if-absent
// only: a concurrent resolution that loses the race never overwrites the winner.
//
// One instance is created at process start and shared by the resolver, the outcome
// decider and the session-expiry subscription.
type PrincipalCache struct {
	shards   [principalCacheShards]cacheShard
	verifier Verifier
}

// NewPrincipalCache creates an empty cache whose side effects go to verifier.
func NewPrincipalCache(verifier Verifier) *PrincipalCache {
	c := &PrincipalCache{verifier: verifier}
	for i := range c.shards {
		c.shards[i].entries = make(map[cacheKey]*Principal)
		c.shards[i].evicted = make(map[uuid.UUID]uint64)
		c.shards[i].outstanding = make(map[uint64]int)
	}
	return c
}

func (c *PrincipalCache) shard(session uuid.UUID) *cacheShard {
	return &c.shards[binary.BigEndian.Uint64(session[8:])%principalCacheShards]
}

// Lookup returns the cached principal for (session, domain).
func (c *PrincipalCache) Lookup(session uuid.UUID, domain TrustDomain) (*Principal, bool) {
	if session == uuid.Nil {
		return nil, false
	}
	shard := c.shard(session)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	p, ok := shard.entries[cacheKey{session, domain}]
	return p, ok
}

// Epoch captures the eviction epoch for session. Call before verifying credentials and
// pass the result to Settle when the resolution is done.
func (c *PrincipalCache) Epoch(session uuid.UUID) Epoch {
	if session == uuid.Nil {
		return Epoch{}
	}
	shard := c.shard(session)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.outstanding[shard.clock]++
	return Epoch{session: session, value: shard.clock}
}

// Settle releases an epoch captured by Epoch. An eviction record is dropped once no
// outstanding epoch predates it.
func (c *PrincipalCache) Settle(e Epoch) {
	if e.session == uuid.Nil {
		return
	}
	shard := c.shard(e.session)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.outstanding[e.value] > 1 {
		shard.outstanding[e.value]--
		return
	}
	delete(shard.outstanding, e.value)

	oldest, found := uint64(0), false
	for value := range shard.outstanding {
		if !found || value < oldest {
			oldest, found = value, true
		}
	}
	for session, at := range shard.evicted {
		if !found || at <= oldest {
			delete(shard.evicted, session)
		}
	}
}

// InsertIfAbsent stores p unless an entry already exists or the session was evicted after
// since was captured. Returns true when p became the stored value, in which case
// auto-refresh is enabled on its provider before the lock is released.
func (c *PrincipalCache) InsertIfAbsent(session uuid.UUID, domain TrustDomain, p *Principal, since Epoch) bool {
	if session == uuid.Nil || p == nil || !p.Authenticated || since.session != session {
		return false
	}

	shard := c.shard(session)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.closed {
		return false
	}
	if at, ok := shard.evicted[session]; ok && at > since.value {
		return false
	}

	key := cacheKey{session, domain}
	if _, exists := shard.entries[key]; exists {
		return false
	}
	shard.entries[key] = p

	if p.Provider != nil {
		c.verifier.EnableAutoRefresh(p.Provider, domain.Alternate())
	}
	return true
}

// Evict removes both trust-domain entries for session. Auto-refresh is disabled and the
// provider credential cache flushed for each removed principal before Evict returns.
// Evicting an unknown session is a no-op returning false.
func (c *PrincipalCache) Evict(session uuid.UUID) bool {
	if session == uuid.Nil {
		return false
	}

	shard := c.shard(session)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.clock++
	if len(shard.outstanding) > 0 {
		shard.evicted[session] = shard.clock
	}

	removed := false
	for _, domain := range []TrustDomain{TrustDomainAlternate, TrustDomainPrimary} {
		key := cacheKey{session, domain}
		p, ok := shard.entries[key]
		if !ok {
			continue
		}
		delete(shard.entries, key)
		removed = true

		if p.Provider != nil {
			c.verifier.DisableAutoRefresh(p.Provider, domain.Alternate())
		}
		c.verifier.Flush(p.Name, domain.Alternate())
	}
	return removed
}

// Len returns the number of cached entries across both trust domains.
func (c *PrincipalCache) Len() int {
	total := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Close evicts every entry and refuses later inserts. Called at shutdown so no provider
// keeps refreshing.
func (c *PrincipalCache) Close() {
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		shard.closed = true
		for key, p := range shard.entries {
			delete(shard.entries, key)
			if p.Provider != nil {
				c.verifier.DisableAutoRefresh(p.Provider, key.domain.Alternate())
			}
		}
		shard.mu.Unlock()
	}
}
