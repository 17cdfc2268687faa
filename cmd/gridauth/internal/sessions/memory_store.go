package sessions

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

const defaultMemoryStoreSize = 4096

// MemoryCredentialStore keeps credentials in process memory for single-node deployments.
// Entries expire after the token TTL and the least recently used are dropped at capacity.
type MemoryCredentialStore struct {
	entries *expirable.LRU[string, Credential]
	ttl     time.Duration
}

// NewMemoryCredentialStore creates a store holding at most size credentials.
func NewMemoryCredentialStore(size int, ttl time.Duration) *MemoryCredentialStore {
	if size <= 0 {
		size = defaultMemoryStoreSize
	}
	if ttl <= 0 {
		ttl = auth.AuthTokenDuration
	}
	return &MemoryCredentialStore{
		entries: expirable.NewLRU[string, Credential](size, nil, ttl),
		ttl:     ttl,
	}
}

// Issue stores the credential and returns a new token for it.
func (s *MemoryCredentialStore) Issue(_ context.Context, username, password string) (string, error) {
	token, hash, err := auth.GenerateAuthToken()
	if err != nil {
		return "", err
	}
	s.entries.Add(hash, Credential{Username: username, Password: password})
	return token, nil
}

// Resolve returns the credential behind token.
func (s *MemoryCredentialStore) Resolve(_ context.Context, token string) (string, string, bool, error) {
	cred, ok := s.entries.Get(auth.HashToken(token))
	if !ok {
		return "", "", false, nil
	}
	return cred.Username, cred.Password, true, nil
}

// Revoke deletes the credential behind token.
func (s *MemoryCredentialStore) Revoke(_ context.Context, token string) error {
	s.entries.Remove(auth.HashToken(token))
	return nil
}

// TTL returns how long issued tokens stay valid.
func (s *MemoryCredentialStore) TTL() time.Duration {
	return s.ttl
}
