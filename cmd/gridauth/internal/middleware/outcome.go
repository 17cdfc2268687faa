package middleware

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
)

// Diagnostic headers attached to unauthorized outcomes.
const (
	HeaderCurrentIdentity       = "CurrentIdentity"
	HeaderAuthenticationFailure = "X-Authentication-Failure"
	headerRequestedWith         = "X-Requested-With"
	ajaxMarker                  = "XMLHttpRequest"
)

// Logout page bodies.
const (
	LogoutComplete  = "Logout complete"
	LogoutNoSession = "Unable to locate the user session"
)

// OutcomeKind is the pipeline disposition for a request.
type OutcomeKind int

const (
	// OutcomeContinue lets the downstream handler serve the request.
	OutcomeContinue OutcomeKind = iota
	OutcomeRedirect
	OutcomeUnauthorized
	// OutcomeComplete means the request was fully handled here.
	OutcomeComplete
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeComplete:
		return "complete"
	default:
		return "continue"
	}
}

// Outcome is a decided disposition, ready to be written.
type Outcome struct {
	Kind     OutcomeKind
	Status   int
	Location string
	Body     string
	Header   http.Header
	Cookies  []*http.Cookie
}

// Write renders the outcome. Continue outcomes write nothing.
func (o Outcome) Write(w http.ResponseWriter, r *http.Request) {
	if o.Kind == OutcomeContinue {
		return
	}
	for name, values := range o.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	for _, cookie := range o.Cookies {
		http.SetCookie(w, cookie)
	}

	switch o.Kind {
	case OutcomeRedirect:
		http.Redirect(w, r, o.Location, o.Status)
	case OutcomeUnauthorized:
		http.Error(w, http.StatusText(o.Status), o.Status)
	case OutcomeComplete:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(o.Status)
		_, _ = io.WriteString(w, o.Body)
	}
}

// RedirectTranslator builds login redirects.
type RedirectTranslator interface {
	TranslateRedirect(h iam.Handle, alternate bool, loginPage string, requestURL *url.URL, encodedPath, encodedReferrer string) string
}

// SessionTerminator ends a session's authentication state.
type SessionTerminator interface {
	Logout(sessionID uuid.UUID) bool
}

// TokenCookies reads the credential token cookie.
type TokenCookies interface {
	TokenFromCookie(r *http.Request) string
	AuthTokenCookieName() string
}

// TokenRevoker deletes the credential behind a token.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// OutcomeObserver receives one callback per decided outcome.
type OutcomeObserver interface {
	RecordOutcome(ctx context.Context, kind string)
}

// DeciderDependencies groups the decider's collaborators.
type DeciderDependencies struct {
	Sessions  SessionTerminator
	Redirects RedirectTranslator
	Resources iam.ResourceClassifier
	Tokens    TokenCookies    // optional
	Revoker   TokenRevoker    // optional
	Observer  OutcomeObserver // optional
	Debug     bool
	Logger    *slog.Logger
}

// Decider turns a resolution into the request's outcome.
type Decider struct {
	sessions  SessionTerminator
	redirects RedirectTranslator
	resources iam.ResourceClassifier
	tokens    TokenCookies
	revoker   TokenRevoker
	observer  OutcomeObserver
	debug     bool
	logger    *slog.Logger
}

// NewDecider creates a Decider.
func NewDecider(deps DeciderDependencies) (*Decider, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("decider requires a session terminator")
	}
	if deps.Redirects == nil {
		return nil, fmt.Errorf("decider requires a redirect translator")
	}
	if deps.Resources == nil {
		return nil, fmt.Errorf("decider requires a resource classifier")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{
		sessions:  deps.Sessions,
		redirects: deps.Redirects,
		resources: deps.Resources,
		tokens:    deps.Tokens,
		revoker:   deps.Revoker,
		observer:  deps.Observer,
		debug:     deps.Debug,
		logger:    logger.With("component", "decider"),
	}, nil
}

// Decide evaluates, in order: logout, provider-requested redirect, anonymous resource
// or authenticated principal, then the unauthenticated redirect or 401.
func (d *Decider) Decide(r *http.Request, res *iam.Resolution) Outcome {
	outcome := d.decide(r, res)
	if d.observer != nil {
		d.observer.RecordOutcome(r.Context(), outcome.Kind.String())
	}
	return outcome
}

func (d *Decider) decide(r *http.Request, res *iam.Resolution) Outcome {
	if res.Logout {
		return d.logout(r, res)
	}

	if res.Authenticated() {
		if target, ok := res.Principal.RequestedRedirect(); ok {
			if target == "" {
				target = "/"
			}
			return Outcome{Kind: OutcomeRedirect, Status: http.StatusFound, Location: target}
		}
		return Outcome{Kind: OutcomeContinue}
	}

	if d.resources.IsAnonymous(r.URL.Path) {
		return Outcome{Kind: OutcomeContinue}
	}

	identity := currentIdentity(res)
	reason := d.failureReason(res)
	d.logger.Info("authentication failure",
		"identity", identity,
		"path", r.URL.Path,
		"domain", res.Domain.String(),
		"attempted", string(res.Attempted),
		"reason", res.Failure,
	)

	header := http.Header{}
	header.Set(HeaderCurrentIdentity, headerSafe(identity))
	header.Set(HeaderAuthenticationFailure, headerSafe(reason))

	if d.resources.IsAuthFailureRedirect(r.URL.Path) && !isAJAX(r) {
		var handle iam.Handle
		if res.Principal != nil {
			handle = res.Principal.Provider
		}
		location := d.redirects.TranslateRedirect(handle, res.Domain.Alternate(), d.resources.LoginPage(),
			r.URL, EncodeRedirectPath(r.URL.RequestURI()), referrerParameter(r))
		return Outcome{Kind: OutcomeRedirect, Status: http.StatusFound, Location: location, Header: header}
	}

	return Outcome{Kind: OutcomeUnauthorized, Status: http.StatusUnauthorized, Header: header}
}

func (d *Decider) logout(r *http.Request, res *iam.Resolution) Outcome {
	outcome := Outcome{Kind: OutcomeComplete, Status: http.StatusOK, Body: LogoutNoSession}

	if d.tokens != nil {
		if token := d.tokens.TokenFromCookie(r); token != "" {
			if d.revoker != nil {
				if err := d.revoker.Revoke(r.Context(), token); err != nil {
					d.logger.Warn("failed to revoke credential token", "error", err)
				}
			}
			outcome.Cookies = append(outcome.Cookies, &http.Cookie{
				Name:     d.tokens.AuthTokenCookieName(),
				Value:    "",
				Path:     "/",
				Expires:  time.Unix(0, 0),
				MaxAge:   -1,
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
	}

	if d.sessions.Logout(res.SessionID) {
		outcome.Body = LogoutComplete
	}
	return outcome
}

func (d *Decider) failureReason(res *iam.Resolution) string {
	if !d.debug {
		if res.Attempted == iam.SourceNone {
			return "No credentials were supplied"
		}
		return "The supplied credentials were rejected"
	}
	if res.Failure == "" {
		return fmt.Sprintf("no principal resolved (attempted: %s)", res.Attempted)
	}
	return fmt.Sprintf("%s: %s", res.Attempted, res.Failure)
}

// currentIdentity prefers the identity recorded before authentication began.
func currentIdentity(res *iam.Resolution) string {
	if res.Ambient != nil && res.Ambient.Name != "" {
		return auth.AdjustedUserName(res.Ambient.Name)
	}
	if res.Principal != nil && res.Principal.Name != "" {
		return res.Principal.Name
	}
	return auth.AnonymousName
}

func isAJAX(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(headerRequestedWith), ajaxMarker)
}

// EncodeRedirectPath encodes a path and query so it survives as a query parameter
// value. DecodeRedirectPath reverses it exactly.
func EncodeRedirectPath(pathAndQuery string) string {
	return url.QueryEscape(base64.URLEncoding.EncodeToString([]byte(pathAndQuery)))
}

// DecodeRedirectPath reverses EncodeRedirectPath.
func DecodeRedirectPath(encoded string) (string, error) {
	unescaped, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", fmt.Errorf("unescape redirect path: %w", err)
	}
	raw, err := base64.URLEncoding.DecodeString(unescaped)
	if err != nil {
		return "", fmt.Errorf("decode redirect path: %w", err)
	}
	return string(raw), nil
}

// referrerParameter encodes a single valid Referer header. Missing, repeated or
// malformed values are omitted rather than failing the redirect.
func referrerParameter(r *http.Request) string {
	values := r.Header.Values("Referer")
	if len(values) != 1 || values[0] == "" || !utf8.ValidString(values[0]) {
		return ""
	}
	return "&referrer=" + EncodeRedirectPath(values[0])
}

// headerSafe replaces control characters so verifier text cannot split headers.
func headerSafe(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value)
}
