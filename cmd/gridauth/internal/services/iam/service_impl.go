package iam

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// iamService implements the Service interface.
//
// It owns the process-wide PrincipalCache and coordinates between the resolver, the
// verifier and the session store.
type iamService struct {
	cache    *PrincipalCache
	resolver *Resolver
	sessions SessionStore
	logger   *slog.Logger
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
type IAMServiceDependencies struct {
	Verifier    Verifier
	Sessions    SessionStore
	Credentials CredentialStore // optional, enables the auth token cookie
	Resources   ResourceClassifier
	Observer    Observer // optional
	Logger      *slog.Logger
}

// NewIAMService creates the IAM service.
//
// This constructor:
//   - Creates the single PrincipalCache instance for the process
//   - Subscribes cache eviction to session-expiry notifications
//   - Returns error if a required collaborator is missing
func NewIAMService(deps IAMServiceDependencies) (Service, error) {
	if deps.Verifier == nil {
		return nil, errors.New("iam: verifier is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("iam: session store is required")
	}
	if deps.Resources == nil {
		return nil, errors.New("iam: resource classifier is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache := NewPrincipalCache(deps.Verifier)
	svc := &iamService{
		cache: cache,
		resolver: NewResolver(ResolverDependencies{
			Cache:       cache,
			Verifier:    deps.Verifier,
			Sessions:    deps.Sessions,
			Credentials: deps.Credentials,
			Resources:   deps.Resources,
			Observer:    deps.Observer,
			Logger:      logger,
		}),
		sessions: deps.Sessions,
		logger:   logger.With("component", "iam"),
	}

	deps.Sessions.OnSessionExpired(func(id uuid.UUID) {
		if svc.EvictSession(id) {
			svc.logger.Debug("evicted principals for expired session", "session", id)
		}
	})

	return svc, nil
}

func (s *iamService) Resolve(r *http.Request) *Resolution {
	return s.resolver.Resolve(r)
}

func (s *iamService) Release(res *Resolution) {
	s.resolver.Release(res)
}

func (s *iamService) Logout(sessionID uuid.UUID) bool {
	if sessionID == uuid.Nil {
		return false
	}
	evicted := s.cache.Evict(sessionID)
	cleared := s.sessions.ClearSessionCache(sessionID)
	return evicted || cleared
}

func (s *iamService) EvictSession(sessionID uuid.UUID) bool {
	return s.cache.Evict(sessionID)
}

func (s *iamService) CachedPrincipals() int {
	return s.cache.Len()
}

func (s *iamService) Close() {
	s.cache.Close()
}
