package auth

import (
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AnonymousName is reported when no identity is known for a request.
const AnonymousName = "anonymous"

// hostname is resolved once; tests override it.
var hostname = func() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}()

// AdjustedUserName strips a machine-local authority prefix ("HOST\user" → "user") when
// HOST equals the local host name. Domain accounts are returned unchanged.
func AdjustedUserName(username string) string {
	index := strings.IndexByte(username, '\\')
	if index < 1 {
		return username
	}

	parts := strings.FieldsFunc(username, func(r rune) bool { return r == '\\' })
	if len(parts) != 2 {
		return username
	}

	if strings.TrimSpace(parts[0]) == hostname {
		return strings.TrimSpace(parts[1])
	}
	return username
}

// UnqualifiedName returns the account part of an authority-qualified name.
//
// Example: UnqualifiedName(`CORP\alice`) → "alice", UnqualifiedName("alice") → "alice"
func UnqualifiedName(name string) string {
	if index := strings.LastIndexByte(name, '\\'); index >= 0 {
		return name[index+1:]
	}
	return name
}

// SameUser compares two account names case-insensitively after NFKC normalization,
// ignoring authority prefixes when only one side carries one.
func SameUser(a, b string) bool {
	a, b = norm.NFKC.String(a), norm.NFKC.String(b)
	if strings.EqualFold(a, b) {
		return true
	}
	if strings.ContainsRune(a, '\\') && strings.ContainsRune(b, '\\') {
		return false
	}
	return strings.EqualFold(UnqualifiedName(a), UnqualifiedName(b))
}
