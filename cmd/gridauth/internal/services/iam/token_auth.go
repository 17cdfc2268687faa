package iam

import (
	"context"
	"net/http"
)

// authenticateToken re-verifies credentials cached behind the auth token cookie. A
// missing, unknown or expired token yields no principal and the chain continues.
func (s *Resolver) authenticateToken(ctx context.Context, r *http.Request, res *Resolution) *Principal {
	if s.credentials == nil {
		return nil
	}
	token := s.sessions.TokenFromCookie(r)
	if token == "" {
		return nil
	}

	username, password, ok, err := s.credentials.Resolve(ctx, token)
	if err != nil {
		s.logger.Warn("credential token lookup failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	req := ProviderRequest{Credentials: Credentials{Username: username, Password: password}}
	return s.verify(ctx, req, res, SourceToken)
}
