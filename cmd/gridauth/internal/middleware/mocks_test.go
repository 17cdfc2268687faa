package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/sessions"
)

type mockHandle struct {
	name     string
	target   string
	redirect bool
}

func (h *mockHandle) Username() string { return h.name }

func (h *mockHandle) RequestedRedirect() (string, bool) { return h.target, h.redirect }
func (h *mockHandle) Roles() []string                   { return nil }
func (h *mockHandle) Revoked() bool                     { return false }

// mockRedirects records the arguments of the last TranslateRedirect call.
type mockRedirects struct {
	handle      iam.Handle
	alternate   bool
	encodedPath string
	referrer    string
}

func (m *mockRedirects) TranslateRedirect(h iam.Handle, alternate bool, loginPage string, requestURL *url.URL, encodedPath, encodedReferrer string) string {
	m.handle, m.alternate, m.encodedPath, m.referrer = h, alternate, encodedPath, encodedReferrer
	target := loginPage + "?redir=" + encodedPath + encodedReferrer
	if alternate {
		target += "&useAlternateSecurityProvider=1"
	}
	return target
}

// mockTerminator ends each known session once.
type mockTerminator struct {
	mu     sync.Mutex
	active map[uuid.UUID]bool
	calls  int
}

func (m *mockTerminator) Logout(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if !m.active[id] {
		return false
	}
	delete(m.active, id)
	return true
}

type mockTokens struct{}

func (mockTokens) TokenFromCookie(r *http.Request) string {
	if c, err := r.Cookie("tok"); err == nil {
		return c.Value
	}
	return ""
}

func (mockTokens) AuthTokenCookieName() string { return "tok" }

type mockRevoker struct {
	revoked []string
	fail    bool
}

func (m *mockRevoker) Revoke(ctx context.Context, token string) error {
	m.revoked = append(m.revoked, token)
	if m.fail {
		return errors.New("redis down")
	}
	return nil
}

type mockOutcomes struct {
	kinds []string
}

func (m *mockOutcomes) RecordOutcome(ctx context.Context, kind string) {
	m.kinds = append(m.kinds, kind)
}

// mockTracker is an in-memory SessionTracker.
type mockTracker struct {
	states  map[uuid.UUID]sessions.State
	started []uuid.UUID
}

func newMockTracker() *mockTracker {
	return &mockTracker{states: make(map[uuid.UUID]sessions.State)}
}

func (m *mockTracker) CookieName() string { return "sid" }

func (m *mockTracker) Start() uuid.UUID {
	id := uuid.New()
	m.states[id] = sessions.StateActive
	m.started = append(m.started, id)
	return id
}

func (m *mockTracker) Touch(id uuid.UUID) sessions.State {
	return m.states[id]
}

type stubResolver struct {
	res      *iam.Resolution
	calls    int
	released []*iam.Resolution
}

func (s *stubResolver) Resolve(r *http.Request) *iam.Resolution {
	s.calls++
	return s.res
}

func (s *stubResolver) Release(res *iam.Resolution) {
	s.released = append(s.released, res)
}

func testResources() config.ResourceConfig {
	return config.ResourceConfig{
		LoginPage:                     "/login",
		LogoutPage:                    "/logout",
		AuthTestPage:                  "/auth/test",
		AnonymousExpression:           `^/health$|^/static/`,
		AlternateExpression:           `^/partner/`,
		AuthFailureRedirectExpression: `^/$|^/ui/|^/partner/`,
	}
}
