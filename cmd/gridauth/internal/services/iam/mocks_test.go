package iam

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
)

// mockHandle is a provider handle bound to one identity.
type mockHandle struct {
	username string
	redirect string
	trusted  bool
	shape    CredentialShape

	mu      sync.Mutex
	roles   []string
	revoked bool
}

func (h *mockHandle) Username() string { return h.username }

func (h *mockHandle) RequestedRedirect() (string, bool) {
	return h.redirect, h.redirect != ""
}

func (h *mockHandle) Roles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roles
}

func (h *mockHandle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// refresh simulates an auto-refresh result.
func (h *mockHandle) refresh(roles []string, revoked bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roles = roles
	h.revoked = revoked
}

type mockUser struct {
	password string
	roles    []string
}

// mockVerifier records every side effect the cache and resolver trigger.
type mockVerifier struct {
	mu         sync.Mutex
	users      map[string]mockUser
	codes      map[string]string
	creates    int
	verifies   int
	refreshing map[Handle]bool
	flushed    []string
	released   []Handle

	// beforeVerify runs inside Verify, letting tests interleave with a verification.
	beforeVerify func()
}

func newMockVerifier() *mockVerifier {
	return &mockVerifier{
		users: map[string]mockUser{
			"alice": {password: "wonderland", roles: []string{"Readers"}},
			"bob":   {password: "builder", roles: []string{"Writers", "readers"}},
		},
		codes:      map[string]string{"good-code": "carol"},
		refreshing: make(map[Handle]bool),
	}
}

func (m *mockVerifier) CreateProvider(ctx context.Context, req ProviderRequest) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++

	switch req.Shape() {
	case ShapeNone:
		return nil, errors.New("no credentials")
	case ShapeCode:
		name, ok := m.codes[req.Code]
		if !ok {
			return &mockHandle{shape: ShapeCode}, nil
		}
		return &mockHandle{username: name, redirect: req.ReturnURL, shape: ShapeCode}, nil
	case ShapePassthrough:
		return &mockHandle{username: req.Trusted.Name, trusted: true, shape: ShapePassthrough}, nil
	}

	if _, ok := m.users[strings.ToLower(auth.UnqualifiedName(req.Username))]; !ok {
		return nil, errors.New("unknown user " + req.Username)
	}
	return &mockHandle{username: req.Username, shape: ShapeExplicit}, nil
}

func (m *mockVerifier) Verify(ctx context.Context, h Handle, password string) VerifiedResult {
	if m.beforeVerify != nil {
		m.beforeVerify()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifies++

	handle := h.(*mockHandle)
	if handle.shape == ShapeCode || handle.trusted {
		return VerifiedResult{Authenticated: handle.username != "", Name: handle.username}
	}
	if handle.username == "" {
		return VerifiedResult{FailureDetail: "code rejected"}
	}
	user, ok := m.users[strings.ToLower(auth.UnqualifiedName(handle.username))]
	if !ok || user.password != password {
		return VerifiedResult{FailureDetail: "bad password for " + handle.username}
	}
	return VerifiedResult{Authenticated: true, Name: handle.username, Roles: user.roles}
}

func (m *mockVerifier) EnableAutoRefresh(h Handle, alternate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing[h] = true
}

func (m *mockVerifier) DisableAutoRefresh(h Handle, alternate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing[h] = false
}

func (m *mockVerifier) Flush(name string, alternate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	domain := "primary"
	if alternate {
		domain = "alternate"
	}
	m.flushed = append(m.flushed, domain+":"+name)
}

func (m *mockVerifier) Release(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, h)
}

func (m *mockVerifier) TranslateRedirect(h Handle, alternate bool, loginPage string, requestURL *url.URL, encodedPath, encodedReferrer string) string {
	target := loginPage + "?redir=" + encodedPath + encodedReferrer
	if alternate {
		target += "&useAlternateSecurityProvider=1"
	}
	return target
}

func (m *mockVerifier) verifyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifies
}

func (m *mockVerifier) isRefreshing(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing[h]
}

func (m *mockVerifier) refreshingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, on := range m.refreshing {
		if on {
			count++
		}
	}
	return count
}

const (
	mockSessionCookie = "sid"
	mockTokenCookie   = "tok"
)

// mockSessions reads session IDs and tokens from plain cookies.
type mockSessions struct {
	mu      sync.Mutex
	known   map[uuid.UUID]bool
	expired []func(uuid.UUID)
}

func newMockSessions() *mockSessions {
	return &mockSessions{known: make(map[uuid.UUID]bool)}
}

func (m *mockSessions) SessionIDFromCookie(r *http.Request) uuid.UUID {
	cookie, err := r.Cookie(mockSessionCookie)
	if err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (m *mockSessions) TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(mockTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (m *mockSessions) ClearSessionCache(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	existed := m.known[id]
	delete(m.known, id)
	return existed
}

func (m *mockSessions) OnSessionExpired(fn func(id uuid.UUID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, fn)
}

func (m *mockSessions) expire(id uuid.UUID) {
	m.mu.Lock()
	subscribers := append([]func(uuid.UUID){}, m.expired...)
	delete(m.known, id)
	m.mu.Unlock()
	for _, fn := range subscribers {
		fn(id)
	}
}

// mockCredentials maps tokens to stored credentials.
type mockCredentials struct {
	entries map[string][2]string
	err     error
}

func (m *mockCredentials) Resolve(ctx context.Context, token string) (string, string, bool, error) {
	if m.err != nil {
		return "", "", false, m.err
	}
	entry, ok := m.entries[token]
	return entry[0], entry[1], ok, nil
}

// mockResources treats /partner/ as the alternate trust domain.
type mockResources struct{}

func (mockResources) IsAnonymous(path string) bool { return path == "/health" }
func (mockResources) IsAlternate(path string) bool { return strings.HasPrefix(path, "/partner/") }
func (mockResources) IsAuthFailureRedirect(path string) bool {
	return path == "/" || strings.HasSuffix(path, ".html")
}
func (mockResources) LogoutPage() string   { return "/logout" }
func (mockResources) LoginPage() string    { return "/login" }
func (mockResources) AuthTestPage() string { return "/auth/test" }

// mockObserver counts resolutions per source.
type mockObserver struct {
	mu      sync.Mutex
	sources map[string]int
}

func (m *mockObserver) RecordResolution(ctx context.Context, source string, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources == nil {
		m.sources = make(map[string]int)
	}
	m.sources[source]++
}
