package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/db/models"
	gridmiddleware "github.com/terraconstructs/gridauth/cmd/gridauth/internal/middleware"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/server"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/sessions"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/telemetry"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/verifier"
)

// credentialStore is what both session credential stores offer.
type credentialStore interface {
	Issue(ctx context.Context, username, password string) (string, error)
	Resolve(ctx context.Context, token string) (string, string, bool, error)
	Revoke(ctx context.Context, token string) error
	TTL() time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	Long: `Starts the HTTP server. Background session sweeping, verifier refresh and the
cross-node expiry relay run under a supervisor that restarts them if they fail.

SIGHUP flushes the verifier's credential cache and re-checks every auto-refreshing
provider, so disabled accounts lose access immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		// Connect to database
		db, err := bunx.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() { _ = bunx.Close(db) }()
		logger.Info("connected to database", "type", bunx.DetectDatabaseType(cfg.DatabaseURL))

		users := repository.NewBunUserRepository(db)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		authMetrics, err := telemetry.NewAuthMetrics(reg)
		if err != nil {
			return fmt.Errorf("create auth metrics: %w", err)
		}
		serverMetrics, err := telemetry.NewServerMetrics(reg)
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}

		primary, err := verifierDomain(ctx, models.DefaultRealm, cfg.OIDC)
		if err != nil {
			return err
		}
		alternate, err := verifierDomain(ctx, cfg.Alternate.Realm, cfg.Alternate.OIDC)
		if err != nil {
			return err
		}
		credentialCache, err := verifier.New(verifier.Options{
			Directory:       users,
			Primary:         primary,
			Alternate:       alternate,
			CacheSize:       cfg.Verifier.CacheSize,
			RefreshInterval: cfg.Verifier.RefreshInterval,
			Observer:        authMetrics,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("create verifier: %w", err)
		}

		manager := sessions.NewManager(sessions.Options{
			CookieName:          cfg.Session.CookieName,
			AuthTokenCookieName: cfg.Session.AuthTokenCookieName,
			IdleTimeout:         cfg.Session.IdleTimeout,
			SweepInterval:       cfg.Session.SweepInterval,
			Logger:              logger,
		})

		supervisor := suture.NewSimple("gridauth")
		supervisor.Add(manager)
		supervisor.Add(credentialCache)

		var credentials credentialStore
		if cfg.RedisURL != "" {
			store, err := sessions.NewRedisCredentialStore(cfg.RedisURL, cfg.Session.CredentialKey(), cfg.Session.AuthTokenTTL)
			if err != nil {
				return fmt.Errorf("configure redis credential store: %w", err)
			}
			defer func() { _ = store.Close() }()
			credentials = store
			supervisor.Add(sessions.NewExpiryRelay(store.Client(), cfg.Session.ExpiryChannel, manager, logger))
			logger.Info("credential tokens stored in redis", "expiry_channel", cfg.Session.ExpiryChannel)
		} else {
			credentials = sessions.NewMemoryCredentialStore(0, cfg.Session.AuthTokenTTL)
			logger.Info("credential tokens stored in memory")
		}

		resources, err := gridmiddleware.NewResources(cfg.Resources)
		if err != nil {
			return fmt.Errorf("configure resources: %w", err)
		}

		iamService, err := iam.NewIAMService(iam.IAMServiceDependencies{
			Verifier:    credentialCache,
			Sessions:    manager,
			Credentials: credentials,
			Resources:   resources,
			Observer:    authMetrics,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("create IAM service: %w", err)
		}
		defer iamService.Close()

		decider, err := gridmiddleware.NewDecider(gridmiddleware.DeciderDependencies{
			Sessions:  iamService,
			Redirects: credentialCache,
			Resources: resources,
			Tokens:    manager,
			Revoker:   credentials,
			Observer:  authMetrics,
			Debug:     cfg.Debug,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("create outcome decider: %w", err)
		}

		for _, g := range []struct {
			subsystem, name, help string
			size                  func() int
		}{
			{"principal_cache", "entries", "Cached (session, domain) principals.", iamService.CachedPrincipals},
			{"verifier", "refreshing_providers", "Providers registered for auto-refresh.", credentialCache.Refreshing},
			{"sessions", "active", "Active browser sessions.", manager.Len},
		} {
			if err := telemetry.RegisterGauge(reg, g.subsystem, g.name, g.help, g.size); err != nil {
				return fmt.Errorf("register %s gauge: %w", g.subsystem, err)
			}
		}

		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","delegated_primary":%t,"delegated_alternate":%t}`,
				cfg.OIDC.Enabled(), cfg.Alternate.OIDC.Enabled())
		}

		handler := server.NewH2CHandler(server.RouterOptions{
			Auth:            iamService,
			Decider:         decider,
			Sessions:        manager,
			Resources:       resources,
			AmbientHeader:   cfg.Session.AmbientIdentityHeader,
			Login:           credentialCache,
			Credentials:     credentials,
			TokenCookieName: manager.AuthTokenCookieName(),
			Admin:           credentialCache,
			Metrics:         serverMetrics,
			Gatherer:        reg,
			HealthHandler:   healthHandler,
			Logger:          logger,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		supervisorCtx, stopSupervisor := context.WithCancel(ctx)
		defer stopSupervisor()
		supervisorErrors := supervisor.ServeBackground(supervisorCtx)

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", cfg.ServerAddr, "url", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP flushes the verifier cache (account changes made with the users command)
		flush := make(chan os.Signal, 1)
		signal.Notify(flush, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case err := <-supervisorErrors:
				return fmt.Errorf("supervisor stopped: %w", err)

			case sig := <-flush:
				credentialCache.FlushAll()
				refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				revoked := credentialCache.Refresh(refreshCtx)
				cancel()
				logger.Info("verifier cache flushed", "signal", sig.String(), "revoked", revoked)

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", "signal", sig.String())

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

// verifierDomain configures a trust domain, attaching a relying party when delegated
// login is enabled for it.
func verifierDomain(ctx context.Context, realm string, rpCfg config.RelyingParty) (verifier.Domain, error) {
	domain := verifier.Domain{Realm: realm}
	if !rpCfg.Enabled() {
		return domain, nil
	}
	rp, err := auth.NewRelyingParty(ctx, rpCfg, nil)
	if err != nil {
		return domain, fmt.Errorf("failed to create relying party for realm %s: %w", realm, err)
	}
	domain.Redeemer = rp
	return domain, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
