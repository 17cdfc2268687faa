package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

const tokenKeyPrefix = "gridauth:token:"

// RedisCredentialStore keeps sealed credentials behind credential tokens in Redis.
// Keys are token hashes and values are secretbox-sealed.
type RedisCredentialStore struct {
	client *redis.Client
	sealer sealer
	ttl    time.Duration
}

// NewRedisCredentialStore connects to Redis and verifies the connection.
func NewRedisCredentialStore(url string, key *[32]byte, ttl time.Duration) (*RedisCredentialStore, error) {
	if key == nil {
		return nil, errors.New("credential store requires a sealing key")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if ttl <= 0 {
		ttl = auth.AuthTokenDuration
	}
	return &RedisCredentialStore{client: client, sealer: sealer{key: key}, ttl: ttl}, nil
}

// Client exposes the underlying client so the expiry relay can share the connection.
func (s *RedisCredentialStore) Client() *redis.Client {
	return s.client
}

// Close closes the underlying Redis client.
func (s *RedisCredentialStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Issue stores the credential and returns a new token for it.
func (s *RedisCredentialStore) Issue(ctx context.Context, username, password string) (string, error) {
	token, hash, err := auth.GenerateAuthToken()
	if err != nil {
		return "", err
	}
	sealed, err := s.sealer.seal(Credential{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, tokenKeyPrefix+hash, sealed, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return token, nil
}

// Resolve returns the credential behind token. ok is false for unknown or expired tokens.
func (s *RedisCredentialStore) Resolve(ctx context.Context, token string) (string, string, bool, error) {
	sealed, err := s.client.Get(ctx, tokenKeyPrefix+auth.HashToken(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("load credential: %w", err)
	}

	cred, err := s.sealer.open(sealed)
	if err != nil {
		return "", "", false, err
	}
	return cred.Username, cred.Password, true, nil
}

// Revoke deletes the credential behind token. Revoking an unknown token is not an error.
func (s *RedisCredentialStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+auth.HashToken(token)).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// TTL returns how long issued tokens stay valid.
func (s *RedisCredentialStore) TTL() time.Duration {
	return s.ttl
}
