package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	gridmiddleware "github.com/terraconstructs/gridauth/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/telemetry"
)

// RouterOptions controls the construction of the gridauth HTTP router.
// Auth, Decider, Sessions and Resources are required; the rest are optional.
type RouterOptions struct {
	Auth          authService
	Decider       *gridmiddleware.Decider
	Sessions      gridmiddleware.SessionTracker
	Resources     iam.ResourceClassifier
	AmbientHeader string

	// Login and Credentials enable POST /auth/login.
	Login           loginVerifier
	Credentials     credentialIssuer
	TokenCookieName string

	// Admin enables POST /admin/cache/flush.
	Admin cacheAdmin

	Metrics  *telemetry.ServerMetrics
	Gatherer prometheus.Gatherer

	CORSOptions   *cors.Options
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
	Logger        *slog.Logger
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			gridmiddleware.HeaderCurrentIdentity,
			gridmiddleware.HeaderAuthenticationFailure,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, the session and
// authentication middleware, and the gridauth handlers mounted.
//
// Middleware order matters: the session cookie must be issued before the resolver reads
// it, and the ambient identity must be recorded before authentication begins.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	r.Use(gridmiddleware.SessionMiddleware(opts.Sessions))
	r.Use(gridmiddleware.AmbientIdentityMiddleware(opts.AmbientHeader))
	r.Use(gridmiddleware.AuthenticationMiddleware(opts.Auth, opts.Decider))

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.Login != nil && opts.Credentials != nil {
		r.Post("/auth/login", HandleLogin(opts.Login, opts.Credentials, opts.TokenCookieName, logger))
	} else {
		logger.Warn("skipping /auth/login: no credential store configured")
	}

	whoami := HandleWhoAmI()
	r.Get("/api/whoami", whoami)
	if page := opts.Resources.AuthTestPage(); page != "" {
		r.Get(page, whoami)
	}

	if opts.Admin != nil {
		r.Post("/admin/cache/flush", HandleCacheFlush(opts.Admin, opts.Auth, logger))
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
