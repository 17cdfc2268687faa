package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
)

func TestResources_Classify(t *testing.T) {
	resources, err := NewResources(testResources())
	require.NoError(t, err)

	tests := []struct {
		path      string
		anonymous bool
		alternate bool
		redirect  bool
	}{
		{path: "/health", anonymous: true},
		{path: "/static/app.css", anonymous: true},
		{path: "/login", anonymous: true},
		{path: "/", redirect: true},
		{path: "/ui/settings", redirect: true},
		{path: "/partner/report", alternate: true, redirect: true},
		{path: "/api/whoami"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.anonymous, resources.IsAnonymous(tt.path))
			assert.Equal(t, tt.alternate, resources.IsAlternate(tt.path))
			assert.Equal(t, tt.redirect, resources.IsAuthFailureRedirect(tt.path))
		})
	}

	assert.Equal(t, "/login", resources.LoginPage())
	assert.Equal(t, "/logout", resources.LogoutPage())
	assert.Equal(t, "/auth/test", resources.AuthTestPage())
}

func TestResources_EmptyExpressionsMatchNothing(t *testing.T) {
	resources, err := NewResources(config.ResourceConfig{LoginPage: "/login"})
	require.NoError(t, err)
	assert.False(t, resources.IsAnonymous("/"))
	assert.False(t, resources.IsAlternate("/"))
	assert.False(t, resources.IsAuthFailureRedirect("/"))
	assert.True(t, resources.IsAnonymous("/login"))
}

func TestResources_InvalidExpression(t *testing.T) {
	cfg := testResources()
	cfg.AlternateExpression = "(["
	_, err := NewResources(cfg)
	assert.ErrorContains(t, err, "alternate")
}

func TestResources_Rules(t *testing.T) {
	cfg := testResources()
	cfg.AnonymousRule = `segment == "docs" and extension == ".html"`
	cfg.AlternateRule = `path matches "^/exports/partner-"`
	cfg.AuthFailureRedirectRule = `owner == "nobody"`
	resources, err := NewResources(cfg)
	require.NoError(t, err)

	assert.True(t, resources.IsAnonymous("/docs/index.html"))
	assert.False(t, resources.IsAnonymous("/docs/private.json"))
	assert.True(t, resources.IsAnonymous("/health"), "the expression still applies")

	assert.True(t, resources.IsAlternate("/exports/partner-q3.csv"))
	assert.True(t, resources.IsAlternate("/partner/report"))
	assert.False(t, resources.IsAlternate("/exports/internal.csv"))

	assert.False(t, resources.IsAuthFailureRedirect("/api/whoami"), "unknown fields match nothing")
	assert.True(t, resources.IsAuthFailureRedirect("/ui/settings"))
}

func TestResources_InvalidRule(t *testing.T) {
	cfg := testResources()
	cfg.AnonymousRule = `segment ==`
	_, err := NewResources(cfg)
	assert.ErrorContains(t, err, "anonymous rule")
}

func TestPathFields(t *testing.T) {
	assert.Equal(t, map[string]any{"path": "/docs/a/b.html", "segment": "docs", "extension": ".html"}, pathFields("/docs/a/b.html"))
	assert.Equal(t, map[string]any{"path": "/", "segment": "", "extension": ""}, pathFields("/"))
}
