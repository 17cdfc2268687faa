package sessions

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrSealedCredential is returned when a stored credential cannot be opened.
var ErrSealedCredential = errors.New("sealed credential could not be opened")

// Credential is the username/password pair stored behind a credential token.
type Credential struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

const nonceSize = 24

// sealer encrypts credentials at rest with NaCl secretbox.
type sealer struct {
	key *[32]byte
}

func (s sealer) seal(cred Credential) ([]byte, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], payload, &nonce, s.key), nil
}

func (s sealer) open(sealed []byte) (Credential, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return Credential{}, ErrSealedCredential
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	payload, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return Credential{}, ErrSealedCredential
	}

	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrSealedCredential, err)
	}
	return cred, nil
}
