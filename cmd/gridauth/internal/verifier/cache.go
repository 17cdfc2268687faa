package verifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/thejerf/abtime"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/telemetry"
)

const (
	// RefreshTicker identifies the auto-refresh ticker on a manual clock.
	RefreshTicker = 2

	defaultCacheSize       = 1024
	defaultRefreshInterval = 5 * time.Minute
)

// ErrUnknownUser is returned by CreateProvider when the directory has no such account.
var ErrUnknownUser = errors.New("unknown user")

// Directory is the account lookup the verifier needs.
type Directory interface {
	GetByUsername(ctx context.Context, realm, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

// CodeRedeemer turns delegated authorization codes into identities.
type CodeRedeemer interface {
	AuthCodeURL(state string) string
	Redeem(ctx context.Context, code string) (auth.DelegatedIdentity, error)
}

// VerifyObserver receives the duration of each verification.
type VerifyObserver interface {
	RecordVerify(ctx context.Context, success bool, durationMs float64)
}

// Domain configures one trust domain.
type Domain struct {
	Realm string
	// Redeemer is nil when delegated login is not configured for the domain.
	Redeemer CodeRedeemer
}

// Options configures a Cache.
type Options struct {
	Directory       Directory
	Primary         Domain
	Alternate       Domain
	CacheSize       int
	RefreshInterval time.Duration
	Clock           abtime.AbstractTime
	Observer        VerifyObserver // optional
	Logger          *slog.Logger
}

// Cache is the directory-backed iam.Verifier.
type Cache struct {
	directory Directory
	domains   [2]Domain
	entries   [2]*lru.Cache[string, *models.User]
	interval  time.Duration
	clock     abtime.AbstractTime
	observer  VerifyObserver
	logger    *slog.Logger

	mu         sync.Mutex
	refreshing map[*Provider]struct{}
}

var _ iam.Verifier = (*Cache)(nil)

// New creates a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Directory == nil {
		return nil, errors.New("verifier: directory is required")
	}
	if opts.Primary.Realm == "" {
		opts.Primary.Realm = models.DefaultRealm
	}
	if opts.Alternate.Realm == "" {
		opts.Alternate.Realm = "alternate"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.Clock == nil {
		opts.Clock = abtime.NewRealTime()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Cache{
		directory:  opts.Directory,
		domains:    [2]Domain{opts.Primary, opts.Alternate},
		interval:   opts.RefreshInterval,
		clock:      opts.Clock,
		observer:   opts.Observer,
		logger:     opts.Logger.With("component", "verifier"),
		refreshing: make(map[*Provider]struct{}),
	}
	for i := range c.entries {
		entries, err := lru.New[string, *models.User](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("verifier: credential cache: %w", err)
		}
		c.entries[i] = entries
	}
	return c, nil
}

func domainIndex(alternate bool) int {
	if alternate {
		return 1
	}
	return 0
}

func cacheKey(name string) string {
	return repository.UsernameKey(auth.UnqualifiedName(name))
}

// CreateProvider resolves the request to a provider. Delegated codes are redeemed here,
// so a rejected code fails verification rather than creation.
func (c *Cache) CreateProvider(ctx context.Context, req iam.ProviderRequest) (iam.Handle, error) {
	domain := c.domains[domainIndex(req.Alternate)]
	p := &Provider{realm: domain.Realm, alternate: req.Alternate}

	switch req.Shape() {
	case iam.ShapeNone:
		return nil, fmt.Errorf("%w: empty username", ErrUnknownUser)

	case iam.ShapeCode:
		if domain.Redeemer == nil {
			return nil, fmt.Errorf("delegated login is not configured for the %s domain", iam.TrustDomainOf(req.Alternate))
		}
		p.delegated = true
		identity, err := domain.Redeemer.Redeem(ctx, req.Code)
		if err != nil {
			c.logger.Info("code redemption failed", "domain", iam.TrustDomainOf(req.Alternate).String(), "error", err)
			return p, nil
		}
		p.username = identity.Username
		p.redirect = redirectTarget(req.State, req.ReturnURL)
		roles := append([]string(nil), identity.Roles...)
		if user, err := c.lookup(ctx, req.Alternate, identity.Username); err == nil && !user.Disabled() {
			roles = append(roles, user.Roles...)
		}
		p.setRoles(roles)
		return p, nil

	case iam.ShapePassthrough:
		p.trusted = true
	}

	if strings.TrimSpace(req.Username) == "" {
		return nil, fmt.Errorf("%w: empty username", ErrUnknownUser)
	}
	user, err := c.lookup(ctx, req.Alternate, req.Username)
	if err != nil {
		return nil, err
	}
	p.username = req.Username
	p.setRoles(user.Roles)
	return p, nil
}

// Verify checks the provider's credentials.
func (c *Cache) Verify(ctx context.Context, h iam.Handle, password string) iam.VerifiedResult {
	start := c.clock.Now()
	ctx, span := telemetry.StartSpan(ctx, "gridauth/verifier", "verifier.Verify",
		attribute.String(telemetry.AttrPrincipalName, h.Username()),
	)
	defer span.End()

	res := c.verify(ctx, h, password)
	if !res.Authenticated {
		telemetry.AddEvent(span, "verify.failed", attribute.String(telemetry.AttrVerifyFailure, res.FailureDetail))
	}
	if c.observer != nil {
		c.observer.RecordVerify(ctx, res.Authenticated, float64(c.clock.Now().Sub(start).Microseconds())/1000)
	}
	return res
}

func (c *Cache) verify(ctx context.Context, h iam.Handle, password string) iam.VerifiedResult {
	p, ok := h.(*Provider)
	if !ok {
		return iam.VerifiedResult{FailureDetail: fmt.Sprintf("foreign provider handle %T", h)}
	}
	if p.delegated {
		if p.username == "" {
			return iam.VerifiedResult{FailureDetail: "delegated code was rejected"}
		}
		return iam.VerifiedResult{Authenticated: true, Name: p.username, Roles: p.Roles()}
	}
	if p.Revoked() {
		return iam.VerifiedResult{FailureDetail: "account " + p.username + " is no longer active"}
	}

	user, err := c.lookup(ctx, p.alternate, p.username)
	if err != nil {
		return iam.VerifiedResult{FailureDetail: err.Error()}
	}
	if user.Disabled() {
		return iam.VerifiedResult{FailureDetail: "account " + user.Username + " is disabled"}
	}

	if !p.trusted {
		if user.PasswordHash == nil {
			return iam.VerifiedResult{FailureDetail: "account " + user.Username + " has no local password"}
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
			return iam.VerifiedResult{FailureDetail: "invalid password for " + user.Username}
		}
	}

	if err := c.directory.UpdateLastLogin(ctx, user.ID); err != nil {
		c.logger.Warn("failed to record last login", "user", user.Username, "error", err)
	}
	p.setRoles(user.Roles)
	return iam.VerifiedResult{Authenticated: true, Name: user.Username, Roles: []string(user.Roles)}
}

// EnableAutoRefresh registers the provider with the refresh loop.
func (c *Cache) EnableAutoRefresh(h iam.Handle, alternate bool) {
	p, ok := h.(*Provider)
	if !ok || p.delegated {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing[p] = struct{}{}
}

// DisableAutoRefresh removes the provider from the refresh loop. A refresh already in
// flight for the provider applies nothing once this returns.
func (c *Cache) DisableAutoRefresh(h iam.Handle, alternate bool) {
	p, ok := h.(*Provider)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.refreshing, p)
}

// Flush drops the cached directory entry for name.
func (c *Cache) Flush(name string, alternate bool) {
	c.entries[domainIndex(alternate)].Remove(cacheKey(name))
}

// FlushAll drops every cached directory entry in both domains.
func (c *Cache) FlushAll() {
	for _, entries := range c.entries {
		entries.Purge()
	}
}

// Release forgets a provider that will not be cached.
func (c *Cache) Release(h iam.Handle) {
	p, ok := h.(*Provider)
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.refreshing, p)
	c.mu.Unlock()
	p.release()
}

// TranslateRedirect sends the client to the domain's identity provider when delegated
// login is configured, otherwise to the local login page.
func (c *Cache) TranslateRedirect(h iam.Handle, alternate bool, loginPage string, requestURL *url.URL, encodedPath, encodedReferrer string) string {
	if p, ok := h.(*Provider); ok {
		alternate = p.alternate
	}
	if redeemer := c.domains[domainIndex(alternate)].Redeemer; redeemer != nil {
		state, err := url.QueryUnescape(encodedPath)
		if err != nil {
			state = encodedPath
		}
		return redeemer.AuthCodeURL(state)
	}

	separator := "?"
	if strings.Contains(loginPage, "?") {
		separator = "&"
	}
	target := loginPage + separator + "redir=" + encodedPath + encodedReferrer
	if alternate {
		target += "&useAlternateSecurityProvider=1"
	}
	return target
}

// Refreshing returns the number of providers registered for auto-refresh.
func (c *Cache) Refreshing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refreshing)
}

func (c *Cache) lookup(ctx context.Context, alternate bool, name string) (*models.User, error) {
	entries := c.entries[domainIndex(alternate)]
	key := cacheKey(name)
	if user, ok := entries.Get(key); ok {
		return user, nil
	}

	user, err := c.fetch(ctx, alternate, name)
	if err != nil {
		return nil, err
	}
	entries.Add(key, user)
	return user, nil
}

// fetch reads the account from the directory without touching the credential cache.
func (c *Cache) fetch(ctx context.Context, alternate bool, name string) (*models.User, error) {
	realm := c.domains[domainIndex(alternate)].Realm
	user, err := c.directory.GetByUsername(ctx, realm, auth.UnqualifiedName(name))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w %s in realm %s", ErrUnknownUser, name, realm)
		}
		return nil, fmt.Errorf("directory lookup for %s: %w", name, err)
	}
	return user, nil
}

// redirectTarget decodes the state echoed by the identity provider into a local path,
// falling back to returnURL.
func redirectTarget(state, returnURL string) string {
	if state != "" {
		if raw, err := base64.URLEncoding.DecodeString(state); err == nil && isLocalPath(string(raw)) {
			return string(raw)
		}
	}
	if isLocalPath(returnURL) {
		return returnURL
	}
	return ""
}

func isLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") &&
		!strings.HasPrefix(target, "//") &&
		!strings.ContainsAny(target, "\\\r\n")
}
