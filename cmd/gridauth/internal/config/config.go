package config

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-bexpr"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides (e.g., GRIDAUTH_SERVER_ADDR).
const EnvPrefix = "GRIDAUTH"

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string `mapstructure:"server_addr"`

	// Externally visible base URL
	ServerURL string `mapstructure:"server_url"`

	// Database connection string (DSN) for the user directory
	DatabaseURL string `mapstructure:"database_url"`

	// Redis URL for the credential token store and session-expiry relay.
	// Empty selects the in-process store (single node only).
	RedisURL string `mapstructure:"redis_url"`

	// Enable debug logging and detailed failure reasons on 401 responses
	Debug bool `mapstructure:"debug"`

	// Log output format: "text" or "json"
	LogFormat string `mapstructure:"log_format"`

	Session   SessionConfig   `mapstructure:"session"`
	Resources ResourceConfig  `mapstructure:"resources"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	OIDC      RelyingParty    `mapstructure:"oidc"`
	Alternate AlternateConfig `mapstructure:"alternate"`
}

// SessionConfig controls the browser session and credential token cookies.
type SessionConfig struct {
	CookieName          string        `mapstructure:"cookie_name"`
	AuthTokenCookieName string        `mapstructure:"auth_token_cookie_name"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	AuthTokenTTL        time.Duration `mapstructure:"auth_token_ttl"`

	// CredentialSecret is a hex-encoded 32-byte key sealing cached credentials.
	CredentialSecret string `mapstructure:"credential_secret"`

	// AmbientIdentityHeader names the header a trusted proxy uses to assert the
	// already-authenticated user. Empty disables pass-through authentication.
	AmbientIdentityHeader string `mapstructure:"ambient_identity_header"`

	// ExpiryChannel is the Redis pub/sub channel used to fan out session expiry.
	ExpiryChannel string `mapstructure:"expiry_channel"`
}

// ResourceConfig classifies request paths. Expressions are Go regular expressions
// matched against the URL path; an empty expression matches nothing.
//
// Rules are go-bexpr boolean expressions over the path's "path", "segment" (first path
// segment) and "extension" fields, for example `segment == "reports" and extension != ".json"`.
// A path is classified when either its expression or its rule matches.
type ResourceConfig struct {
	LoginPage    string `mapstructure:"login_page"`
	LogoutPage   string `mapstructure:"logout_page"`
	AuthTestPage string `mapstructure:"auth_test_page"`

	AnonymousExpression           string `mapstructure:"anonymous_expression"`
	AlternateExpression           string `mapstructure:"alternate_expression"`
	AuthFailureRedirectExpression string `mapstructure:"auth_failure_redirect_expression"`

	AnonymousRule           string `mapstructure:"anonymous_rule"`
	AlternateRule           string `mapstructure:"alternate_rule"`
	AuthFailureRedirectRule string `mapstructure:"auth_failure_redirect_rule"`
}

// VerifierConfig tunes the credential verifier's provider caches.
type VerifierConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CacheSize       int           `mapstructure:"cache_size"`
}

// RelyingParty configures delegated (authorization code) authentication against an
// external OIDC provider. Disabled when Issuer is empty.
type RelyingParty struct {
	Issuer        string   `mapstructure:"issuer"`
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	RedirectURI   string   `mapstructure:"redirect_uri"`
	Scopes        []string `mapstructure:"scopes"`
	UsernameClaim string   `mapstructure:"username_claim"`
	GroupsClaim   string   `mapstructure:"groups_claim"`

	// GroupsClaimPath names the member field when groups are objects.
	GroupsClaimPath string `mapstructure:"groups_claim_path"`
}

// Enabled reports whether delegated authentication is configured.
func (r RelyingParty) Enabled() bool {
	return r.Issuer != ""
}

// AlternateConfig configures the alternate trust domain.
type AlternateConfig struct {
	// Realm is the directory realm consulted for alternate-domain users.
	Realm string       `mapstructure:"realm"`
	OIDC  RelyingParty `mapstructure:"oidc"`
}

// defaults lists every key so that AutomaticEnv overrides are visible to Unmarshal.
var defaults = map[string]any{
	"server_addr":  "localhost:8080",
	"server_url":   "http://localhost:8080",
	"database_url": "file:gridauth.db?cache=shared",
	"redis_url":    "",
	"debug":        false,
	"log_format":   "text",

	"session.cookie_name":             "gridauth.session",
	"session.auth_token_cookie_name":  "gridauth.token",
	"session.idle_timeout":            "20m",
	"session.sweep_interval":          "1m",
	"session.auth_token_ttl":          "8h",
	"session.credential_secret":       "",
	"session.ambient_identity_header": "",
	"session.expiry_channel":          "gridauth:session-expired",

	"resources.login_page":                       "/login",
	"resources.logout_page":                      "/logout",
	"resources.auth_test_page":                   "/auth/test",
	"resources.anonymous_expression":             `^/(health|metrics|login|auth/login)$|^/static/|^/favicon\.ico$`,
	"resources.alternate_expression":             "",
	"resources.auth_failure_redirect_expression": `^/$|^/.+\.html$|^/ui/`,
	"resources.anonymous_rule":                   "",
	"resources.alternate_rule":                   "",
	"resources.auth_failure_redirect_rule":       "",

	"verifier.refresh_interval": "5m",
	"verifier.cache_size":       1024,

	"oidc.issuer":            "",
	"oidc.client_id":         "",
	"oidc.client_secret":     "",
	"oidc.redirect_uri":      "",
	"oidc.scopes":            "openid,profile,email",
	"oidc.username_claim":    "preferred_username",
	"oidc.groups_claim":      "groups",
	"oidc.groups_claim_path": "",

	"alternate.realm":                  "alternate",
	"alternate.oidc.issuer":            "",
	"alternate.oidc.client_id":         "",
	"alternate.oidc.client_secret":     "",
	"alternate.oidc.redirect_uri":      "",
	"alternate.oidc.scopes":            "openid,profile,email",
	"alternate.oidc.username_claim":    "preferred_username",
	"alternate.oidc.groups_claim":      "groups",
	"alternate.oidc.groups_claim_path": "",
}

// Load reads configuration from the global viper instance (config file, if the caller
// loaded one) with GRIDAUTH_ prefixed environment variables taking precedence.
func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Session.CookieName == "" || c.Session.AuthTokenCookieName == "" {
		return fmt.Errorf("session cookie names are required")
	}
	if c.Session.CookieName == c.Session.AuthTokenCookieName {
		return fmt.Errorf("session cookie and auth token cookie must differ")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.CredentialSecret != "" {
		key, err := hex.DecodeString(c.Session.CredentialSecret)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("session.credential_secret must be 64 hex characters")
		}
	}

	for name, expr := range map[string]string{
		"resources.anonymous_expression":             c.Resources.AnonymousExpression,
		"resources.alternate_expression":             c.Resources.AlternateExpression,
		"resources.auth_failure_redirect_expression": c.Resources.AuthFailureRedirectExpression,
	} {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, rule := range map[string]string{
		"resources.anonymous_rule":             c.Resources.AnonymousRule,
		"resources.alternate_rule":             c.Resources.AlternateRule,
		"resources.auth_failure_redirect_rule": c.Resources.AuthFailureRedirectRule,
	} {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		if _, err := bexpr.CreateEvaluator(rule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Resources.LogoutPage == "" || c.Resources.LoginPage == "" {
		return fmt.Errorf("resources.login_page and resources.logout_page are required")
	}

	for name, rp := range map[string]RelyingParty{"oidc": c.OIDC, "alternate.oidc": c.Alternate.OIDC} {
		if !rp.Enabled() {
			continue
		}
		if rp.ClientID == "" {
			return fmt.Errorf("%s.client_id is required when %s.issuer is set", name, name)
		}
		if rp.RedirectURI == "" {
			return fmt.Errorf("%s.redirect_uri is required when %s.issuer is set", name, name)
		}
	}

	return nil
}

// CredentialKey decodes the credential sealing key. Returns nil when unset.
func (s SessionConfig) CredentialKey() *[32]byte {
	raw, err := hex.DecodeString(s.CredentialSecret)
	if err != nil || len(raw) != 32 {
		return nil
	}
	var key [32]byte
	copy(key[:], raw)
	return &key
}
