package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// DefaultSessionCookieName carries the browser session identifier.
	DefaultSessionCookieName = "gridauth.session"

	// DefaultAuthTokenCookieName carries the short-lived credential token issued at login.
	DefaultAuthTokenCookieName = "gridauth.token"

	// AuthTokenDuration is the default lifetime of a credential token (8 hours)
	AuthTokenDuration = 8 * time.Hour

	// TokenLength is the length of generated credential tokens in bytes
	TokenLength = 32
)

// GenerateAuthToken generates a cryptographically secure random credential token
// Returns: token (hex string), token hash (SHA256 hex), error
func GenerateAuthToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken hashes a credential token for storage/lookup
// Returns SHA256 hex hash
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
