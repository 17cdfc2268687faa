package middleware

import (
	"context"
	"net/http"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
)

// Resolver resolves a request's principal. iam.Service satisfies it.
type Resolver interface {
	Resolve(r *http.Request) *iam.Resolution
	// Release is called once the request has been handled.
	Release(res *iam.Resolution)
}

// AuthenticationMiddleware resolves the request once, stores the resolution on the
// context and lets the decider choose between serving, redirecting, rejecting or
// completing the request.
func AuthenticationMiddleware(resolver Resolver, decider *Decider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolver.Resolve(r)
			defer resolver.Release(res)
			r = r.WithContext(iam.WithResolution(r.Context(), res))

			outcome := decider.Decide(r, res)
			if outcome.Kind == OutcomeContinue {
				next.ServeHTTP(w, r)
				return
			}
			outcome.Write(w, r)
		})
	}
}

// PrincipalFromContext returns the authenticated principal resolved for the request.
func PrincipalFromContext(ctx context.Context) (*iam.Principal, bool) {
	res, ok := iam.ResolutionFromContext(ctx)
	if !ok || !res.Authenticated() {
		return nil, false
	}
	return res.Principal, true
}
