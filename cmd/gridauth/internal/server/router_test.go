package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	gridmiddleware "github.com/terraconstructs/gridauth/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/migrations"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/sessions"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/telemetry"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/verifier"
)

type testStack struct {
	server   *httptest.Server
	users    *repository.BunUserRepository
	verifier *verifier.Cache
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := bunx.NewDB(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	users := repository.NewBunUserRepository(db)
	for _, u := range []struct {
		name, password string
		roles          []string
	}{
		{"alice", "wonderland", []string{"Readers"}},
		{"root", "toor", []string{AdminRole}},
	} {
		hash, err := verifier.HashPassword(u.password)
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, &models.User{
			Username:     u.name,
			PasswordHash: &hash,
			Roles:        models.RoleList(u.roles),
		}))
	}

	clock := abtime.NewManual()
	manager := sessions.NewManager(sessions.Options{
		CookieName:          "sid",
		AuthTokenCookieName: "tok",
		IdleTimeout:         time.Hour,
		Clock:               clock,
		Logger:              logger,
	})
	credentials := sessions.NewMemoryCredentialStore(16, time.Hour)

	reg := prometheus.NewRegistry()
	authMetrics, err := telemetry.NewAuthMetrics(reg)
	require.NoError(t, err)

	cache, err := verifier.New(verifier.Options{
		Directory: users,
		Clock:     clock,
		Observer:  authMetrics,
		Logger:    logger,
	})
	require.NoError(t, err)

	resources, err := gridmiddleware.NewResources(config.ResourceConfig{
		LoginPage:                     "/login",
		LogoutPage:                    "/logout",
		AuthTestPage:                  "/auth/test",
		AnonymousExpression:           `^/(health|metrics|login|auth/login)$`,
		AuthFailureRedirectExpression: `^/$|^/ui/`,
	})
	require.NoError(t, err)

	svc, err := iam.NewIAMService(iam.IAMServiceDependencies{
		Verifier:    cache,
		Sessions:    manager,
		Credentials: credentials,
		Resources:   resources,
		Observer:    authMetrics,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	decider, err := gridmiddleware.NewDecider(gridmiddleware.DeciderDependencies{
		Sessions:  svc,
		Redirects: cache,
		Resources: resources,
		Tokens:    manager,
		Revoker:   credentials,
		Observer:  authMetrics,
		Logger:    logger,
	})
	require.NoError(t, err)

	serverMetrics, err := telemetry.NewServerMetrics(reg)
	require.NoError(t, err)

	router := NewRouter(RouterOptions{
		Auth:            svc,
		Decider:         decider,
		Sessions:        manager,
		Resources:       resources,
		Login:           cache,
		Credentials:     credentials,
		TokenCookieName: manager.AuthTokenCookieName(),
		Admin:           cache,
		Metrics:         serverMetrics,
		Gatherer:        reg,
		Logger:          logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testStack{server: server, users: users, verifier: cache}
}

// browser returns a client with a cookie jar that does not follow redirects.
func (s *testStack) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testStack) do(t *testing.T, client *http.Client, method, path string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	return s.send(t, client, method, path, "", "", mutate)
}

func (s *testStack) send(t *testing.T, client *http.Client, method, path, contentType, body string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if mutate != nil {
		mutate(req)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func basic(user, password string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

func decodeWhoami(t *testing.T, resp *http.Response) WhoamiResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body WhoamiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestRouter_AnonymousResources(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	resp := stack.do(t, client, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", readBody(t, resp))

	sessionCookie := false
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			sessionCookie = true
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, sessionCookie, "first request should be issued a session cookie")
}

func TestRouter_UnauthenticatedOutcomes(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	t.Run("api resources get 401 with diagnostics", func(t *testing.T) {
		resp := stack.do(t, client, http.MethodGet, "/api/whoami", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "No credentials were supplied", resp.Header.Get(gridmiddleware.HeaderAuthenticationFailure))
		assert.NotEmpty(t, resp.Header.Get(gridmiddleware.HeaderCurrentIdentity))
	})

	t.Run("redirect resources go to the login page", func(t *testing.T) {
		resp := stack.do(t, client, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login?redir="+gridmiddleware.EncodeRedirectPath("/"), resp.Header.Get("Location"))
	})

	t.Run("ajax requests are never redirected", func(t *testing.T) {
		resp := stack.do(t, client, http.MethodGet, "/", func(r *http.Request) {
			r.Header.Set("X-Requested-With", "XMLHttpRequest")
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejected password", func(t *testing.T) {
		resp := stack.do(t, client, http.MethodGet, "/api/whoami", basic("alice", "nope"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "The supplied credentials were rejected", resp.Header.Get(gridmiddleware.HeaderAuthenticationFailure))
	})
}

func TestRouter_BasicThenSessionCache(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	body := decodeWhoami(t, stack.do(t, client, http.MethodGet, "/api/whoami", basic("alice", "wonderland")))
	assert.Equal(t, "alice", body.Name)
	assert.Equal(t, "basic", body.Source)
	assert.Equal(t, []string{"Readers"}, body.Roles)
	assert.NotEmpty(t, body.Session)

	body = decodeWhoami(t, stack.do(t, client, http.MethodGet, "/api/whoami", nil))
	assert.Equal(t, "alice", body.Name)
	assert.Equal(t, "cache", body.Source)

	t.Run("auth test page selects the alternate domain", func(t *testing.T) {
		resp := stack.do(t, client, http.MethodGet, "/auth/test?useAlternate", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRouter_FormLoginIssuesToken(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	form := url.Values{"username": {"alice"}, "password": {"wonderland"}}
	resp := stack.send(t, client, http.MethodPost, "/auth/login?redir="+gridmiddleware.EncodeRedirectPath("/ui/home?tab=1"),
		"application/x-www-form-urlencoded", form.Encode(), nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/ui/home?tab=1", resp.Header.Get("Location"))

	var token *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "tok" {
			token = c
		}
	}
	require.NotNil(t, token)
	assert.True(t, token.HttpOnly)

	// A fresh session proves the token, not the session cache, authenticates.
	fresh := stack.browser(t)
	body := decodeWhoami(t, stack.do(t, fresh, http.MethodGet, "/api/whoami", func(r *http.Request) {
		r.AddCookie(token)
	}))
	assert.Equal(t, "alice", body.Name)
	assert.Equal(t, "token", body.Source)

	t.Run("bad password", func(t *testing.T) {
		resp := stack.send(t, stack.browser(t), http.MethodPost, "/auth/login", "application/json", `{"username":"alice","password":"nope"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		for _, c := range resp.Cookies() {
			assert.NotEqual(t, "tok", c.Name)
		}
	})

	t.Run("missing password", func(t *testing.T) {
		resp := stack.send(t, stack.browser(t), http.MethodPost, "/auth/login", "application/json", `{"username":"alice"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("json login without return path", func(t *testing.T) {
		resp := stack.send(t, stack.browser(t), http.MethodPost, "/auth/login", "application/json", `{"username":"ALICE","password":"wonderland"}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var login LoginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
		assert.Greater(t, login.ExpiresAt, int64(0))
		login.ExpiresAt = 0
		if diff := deep.Equal(login, LoginResponse{Name: "alice", Roles: []string{"Readers"}, Domain: "primary"}); diff != nil {
			t.Error(diff)
		}
	})
}

func TestRouter_RefreshAppliesToCachedSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled account stops resolving", func(t *testing.T) {
		stack := newTestStack(t)
		client := stack.browser(t)

		body := decodeWhoami(t, stack.do(t, client, http.MethodGet, "/api/whoami", basic("alice", "wonderland")))
		require.Equal(t, "basic", body.Source)

		alice, err := stack.users.GetByUsername(ctx, models.DefaultRealm, "alice")
		require.NoError(t, err)
		require.NoError(t, stack.users.SetDisabled(ctx, alice.ID, true))

		stack.verifier.FlushAll()
		assert.Equal(t, 1, stack.verifier.Refresh(ctx))

		resp := stack.do(t, client, http.MethodGet, "/api/whoami", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, stack.verifier.Refreshing(), "the evicted provider no longer refreshes")
	})

	t.Run("refreshed roles reach the cached principal", func(t *testing.T) {
		stack := newTestStack(t)
		client := stack.browser(t)

		resp := stack.do(t, client, http.MethodPost, "/admin/cache/flush", basic("alice", "wonderland"))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		alice, err := stack.users.GetByUsername(ctx, models.DefaultRealm, "alice")
		require.NoError(t, err)
		alice.Roles = models.RoleList{"Readers", AdminRole}
		require.NoError(t, stack.users.Update(ctx, alice))
		assert.Equal(t, 0, stack.verifier.Refresh(ctx))

		body := decodeWhoami(t, stack.do(t, client, http.MethodGet, "/api/whoami", nil))
		assert.Equal(t, "cache", body.Source)
		if diff := deep.Equal(body.Roles, []string{AdminRole, "Readers"}); diff != nil {
			t.Error(diff)
		}

		resp = stack.do(t, client, http.MethodPost, "/admin/cache/flush", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRouter_LogoutIsIdempotent(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	decodeWhoami(t, stack.do(t, client, http.MethodGet, "/api/whoami", basic("alice", "wonderland")))

	resp := stack.do(t, client, http.MethodGet, "/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gridmiddleware.LogoutComplete, readBody(t, resp))

	resp = stack.do(t, client, http.MethodGet, "/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gridmiddleware.LogoutNoSession, readBody(t, resp))

	resp = stack.do(t, client, http.MethodGet, "/api/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_AdminCacheFlush(t *testing.T) {
	stack := newTestStack(t)

	resp := stack.do(t, stack.browser(t), http.MethodPost, "/admin/cache/flush", basic("alice", "wonderland"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = stack.do(t, stack.browser(t), http.MethodPost, "/admin/cache/flush", basic("root", "toor"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body CacheFlushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, 2, body.CachedPrincipals)
}

func TestRouter_Metrics(t *testing.T) {
	stack := newTestStack(t)
	client := stack.browser(t)

	stack.do(t, client, http.MethodGet, "/api/whoami", basic("alice", "wonderland"))

	resp := stack.do(t, client, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := readBody(t, resp)
	assert.Contains(t, text, `gridauth_auth_resolutions_total{domain="primary",source="basic"} 1`)
	assert.Contains(t, text, `gridauth_auth_outcomes_total{kind="continue"}`)
	assert.Contains(t, text, `gridauth_http_requests_total{method="GET",route="/api/whoami",status="200"} 1`)
}
