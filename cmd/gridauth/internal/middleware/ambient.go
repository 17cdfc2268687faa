package middleware

import (
	"net/http"
	"strings"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// AmbientAuthType labels identities asserted by a trusted proxy header.
const AmbientAuthType = "TrustedHeader"

// AmbientIdentityMiddleware records the identity a trusted reverse proxy asserted in
// header. With an empty header name the middleware does nothing.
func AmbientIdentityMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if header == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := strings.TrimSpace(r.Header.Get(header))
			if name != "" {
				ctx := auth.SetAmbientIdentity(r.Context(), auth.AmbientIdentity{Name: name, AuthType: AmbientAuthType})
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}
