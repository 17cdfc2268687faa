package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// SchemeBasic is the Authorization scheme carrying a base64 "username:password" pair.
const SchemeBasic = "Basic"

var (
	// ErrMalformedEncoding is returned when the credential payload is not valid base64.
	ErrMalformedEncoding = errors.New("malformed credential encoding")

	// ErrInvalidCharacterEncoding is returned when the decoded payload contains bytes
	// outside the accepted character set. Invalid bytes are never substituted.
	ErrInvalidCharacterEncoding = errors.New("invalid character encoding in credentials")

	// ErrMissingSeparator is returned when no ':' separates username and password.
	ErrMissingSeparator = errors.New("credentials missing ':' separator")
)

// AuthorizationHeader is a parsed "Authorization: <scheme> <parameter>" header.
type AuthorizationHeader struct {
	Scheme    string
	Parameter string
}

// IsBasic reports whether the header uses the Basic scheme.
func (h *AuthorizationHeader) IsBasic() bool {
	return h != nil && h.Scheme == SchemeBasic
}

// ParseAuthorizationHeader splits the Authorization header into scheme and parameter.
// Returns nil when the header is absent or does not carry both parts.
func ParseAuthorizationHeader(r *http.Request) *AuthorizationHeader {
	if r == nil {
		return nil
	}
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 {
		return nil
	}
	return &AuthorizationHeader{Scheme: fields[0], Parameter: fields[1]}
}

// DecodeBasic decodes a Basic credential parameter into username and password.
//
// HTTP/1.1 only defines this payload for ASCII, so any byte above 0x7F fails with
// ErrInvalidCharacterEncoding rather than being replaced by U+FFFD. A replacement could
// turn an attacker-chosen byte sequence into a different username.
func DecodeBasic(encoded string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", ErrMalformedEncoding
	}

	for _, b := range raw {
		if b > 0x7F {
			return "", "", ErrInvalidCharacterEncoding
		}
	}

	credentials := string(raw)
	if credentials == "" {
		return "", "", ErrMissingSeparator
	}

	index := strings.IndexByte(credentials, ':')
	if index == -1 {
		return "", "", ErrMissingSeparator
	}

	return credentials[:index], credentials[index+1:], nil
}

// EncodeBasic is the inverse of DecodeBasic.
func EncodeBasic(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
