package iam

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// Resolution is the memoized authentication result for one request.
type Resolution struct {
	// Principal is the resolved authenticated principal, or nil.
	Principal *Principal
	// Source is the chain step that produced Principal (SourceNone when nil).
	Source Source
	// Attempted is the last verification strategy tried.
	Attempted Source
	// Failure is the verifier's failure detail for the last attempt.
	Failure string

	SessionID uuid.UUID
	Domain    TrustDomain
	// Logout marks a request for the logout page; no principal is resolved.
	Logout bool
	// Ambient is the identity recorded before authentication began.
	Ambient *auth.AmbientIdentity
	// Scheme is the Authorization scheme the client presented, if any.
	Scheme string

	// transient marks a principal that was served without being cached; its provider is
	// released once the request is done.
	transient bool
}

// Authenticated reports whether an authenticated principal was resolved.
func (r *Resolution) Authenticated() bool {
	return r != nil && r.Principal != nil && r.Principal.Authenticated
}

type resolutionContextKey struct{}

// WithResolution stores the resolution on the context so later calls reuse it.
func WithResolution(ctx context.Context, res *Resolution) context.Context {
	return context.WithValue(ctx, resolutionContextKey{}, res)
}

// ResolutionFromContext retrieves a previously stored resolution.
func ResolutionFromContext(ctx context.Context) (*Resolution, bool) {
	res, ok := ctx.Value(resolutionContextKey{}).(*Resolution)
	return res, ok && res != nil
}

// Observer receives one callback per resolution.
type Observer interface {
	RecordResolution(ctx context.Context, source string, domain string)
}

// Resolver walks the authentication chain for a request.
//
// Chain (first definitive success wins):
//  1. Logout page: mark the request, resolve nothing
//  2. Session cache hit (evicted first if the provider was revoked or Basic credentials
//     name a different user)
//  3. Credential token cookie (only without an Authorization header)
//  4. Basic header, else delegated code, else pass-through ambient identity
//
// Unauthenticated results are never cached. The resolver is stateless apart from the
// shared PrincipalCache and is safe for concurrent use.
type Resolver struct {
	cache       *PrincipalCache
	verifier    Verifier
	sessions    SessionStore
	credentials CredentialStore
	resources   ResourceClassifier
	observer    Observer
	logger      *slog.Logger
}

// ResolverDependencies groups the resolver's collaborators.
type ResolverDependencies struct {
	Cache       *PrincipalCache
	Verifier    Verifier
	Sessions    SessionStore
	Credentials CredentialStore // optional
	Resources   ResourceClassifier
	Observer    Observer // optional
	Logger      *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(deps ResolverDependencies) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:       deps.Cache,
		verifier:    deps.Verifier,
		sessions:    deps.Sessions,
		credentials: deps.Credentials,
		resources:   deps.Resources,
		observer:    deps.Observer,
		logger:      logger.With("component", "resolver"),
	}
}

// Resolve returns the request's resolution, computing it at most once per request
// context. Callers should store the result with WithResolution.
func (s *Resolver) Resolve(r *http.Request) *Resolution {
	ctx := r.Context()
	if res, ok := ResolutionFromContext(ctx); ok {
		return res
	}

	res := s.resolve(ctx, r)
	if s.observer != nil {
		s.observer.RecordResolution(ctx, string(res.Source), res.Domain.String())
	}
	return res
}

func (s *Resolver) resolve(ctx context.Context, r *http.Request) *Resolution {
	query := r.URL.Query()
	res := &Resolution{
		Source:    SourceNone,
		Attempted: SourceNone,
		SessionID: s.sessions.SessionIDFromCookie(r),
		Domain:    s.trustDomain(r.URL.Path, query),
	}
	res.Ambient, _ = auth.AmbientIdentityFromContext(ctx)

	if r.URL.Path == s.resources.LogoutPage() {
		res.Logout = true
		res.Source = SourceLogout
		return res
	}

	header := auth.ParseAuthorizationHeader(r)
	if header != nil {
		res.Scheme = header.Scheme
	}

	epoch := s.cache.Epoch(res.SessionID)
	defer func() { s.cache.Settle(epoch) }()

	if cached, ok := s.cache.Lookup(res.SessionID, res.Domain); ok {
		switch {
		case cached.Revoked():
			s.logger.Info("cached principal was revoked, evicting session",
				"session", res.SessionID, "cached", cached.Name)
		case s.competingLogin(header, cached):
			// Explicit login as a different user flushes the session's credentials
			s.logger.Info("basic credentials name a different user, evicting session",
				"session", res.SessionID, "cached", cached.Name)
		default:
			res.Principal = cached
			res.Source = SourceCache
			return res
		}
		s.cache.Evict(res.SessionID)
		s.cache.Settle(epoch)
		epoch = s.cache.Epoch(res.SessionID)
	}

	if header == nil {
		if p := s.authenticateToken(ctx, r, res); p != nil {
			return s.finish(ctx, res, p, SourceToken, epoch)
		}
	}

	if header.IsBasic() {
		if p, applied := s.authenticateBasic(ctx, header.Parameter, res); applied {
			return s.finish(ctx, res, p, SourceBasic, epoch)
		}
	}

	if code := query.Get("code"); code != "" {
		p := s.authenticateCode(ctx, r.URL, code, res)
		return s.finish(ctx, res, p, SourceCode, epoch)
	}

	p := s.authenticatePassthrough(ctx, res)
	return s.finish(ctx, res, p, SourcePassthrough, epoch)
}

// trustDomain selects the alternate domain for alternate resources, or for the auth
// test page when the query asks for it.
func (s *Resolver) trustDomain(path string, query url.Values) TrustDomain {
	if s.resources.IsAlternate(path) {
		return TrustDomainAlternate
	}
	if path == s.resources.AuthTestPage() && query.Has("useAlternate") {
		return TrustDomainAlternate
	}
	return TrustDomainPrimary
}

// competingLogin reports whether the request carries Basic credentials for a user other
// than the cached principal. Undecodable credentials cannot name a user and never compete.
func (s *Resolver) competingLogin(header *auth.AuthorizationHeader, cached *Principal) bool {
	if !header.IsBasic() {
		return false
	}
	username, _, err := auth.DecodeBasic(header.Parameter)
	if err != nil {
		return false
	}
	return !auth.SameUser(username, cached.Name)
}

// finish caches an authenticated principal and records it on the resolution.
func (s *Resolver) finish(ctx context.Context, res *Resolution, p *Principal, source Source, epoch Epoch) *Resolution {
	if p == nil {
		return res
	}

	// An abandoned request must not leave anything behind.
	if ctx.Err() != nil {
		s.verifier.Release(p.Provider)
		s.logger.Debug("request ended during verification, discarding principal",
			"session", res.SessionID, "name", p.Name)
		return res
	}

	res.Principal = s.cachePrincipal(res, p, epoch)
	res.Source = source
	return res
}

func (s *Resolver) cachePrincipal(res *Resolution, p *Principal, epoch Epoch) *Principal {
	if res.SessionID == uuid.Nil {
		res.transient = true
		return p
	}
	if s.cache.InsertIfAbsent(res.SessionID, res.Domain, p, epoch) {
		return p
	}

	winner, ok := s.cache.Lookup(res.SessionID, res.Domain)
	if ok && winner != p && auth.SameUser(winner.Name, p.Name) {
		s.verifier.Release(p.Provider)
		return winner
	}
	// Either the session was evicted mid-flight or another user won the race; serve this
	// request with its own principal without caching it.
	res.transient = true
	return p
}

// Release frees the provider of a principal that was served without being cached. Call
// once the request has been handled.
func (s *Resolver) Release(res *Resolution) {
	if res == nil || !res.transient || res.Principal == nil || res.Principal.Provider == nil {
		return
	}
	res.transient = false
	s.verifier.Release(res.Principal.Provider)
}

// verify runs one provider verification. Failures are recorded on res.
func (s *Resolver) verify(ctx context.Context, req ProviderRequest, res *Resolution, source Source) *Principal {
	res.Attempted = source
	req.Alternate = res.Domain.Alternate()

	handle, err := s.verifier.CreateProvider(ctx, req)
	if err != nil {
		res.Failure = err.Error()
		s.logger.Debug("create provider failed", "source", source, "error", err)
		return nil
	}

	result := s.verifier.Verify(ctx, handle, req.Password)
	if !result.Authenticated {
		res.Failure = result.FailureDetail
		s.verifier.Release(handle)
		return nil
	}

	name := result.Name
	if name == "" {
		name = handle.Username()
	}
	return &Principal{
		Name:          name,
		Authenticated: true,
		Roles:         NewRoleSet(result.Roles...),
		Provider:      handle,
		Domain:        res.Domain,
	}
}
