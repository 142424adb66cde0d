package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"github.com/storefront-labs/gateway/internal/access"
	"github.com/storefront-labs/gateway/internal/db/bunx"
	gwmiddleware "github.com/storefront-labs/gateway/internal/middleware"
	"github.com/storefront-labs/gateway/internal/migrations"
	"github.com/storefront-labs/gateway/internal/repository"
	"github.com/storefront-labs/gateway/internal/server"
	"github.com/storefront-labs/gateway/internal/session"
	"github.com/storefront-labs/gateway/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long:  `Starts the HTTP server: the authorization gateway, the session endpoints and the storefront proxy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tel, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()

		gatewayMetrics, err := telemetry.NewGatewayMetrics()
		if err != nil {
			return fmt.Errorf("failed to create gateway metrics: %w", err)
		}
		sessionMetrics, err := telemetry.NewSessionMetrics()
		if err != nil {
			return fmt.Errorf("failed to create session metrics: %w", err)
		}

		decoder, err := newDecoder(cfg.Tokens, logger)
		if err != nil {
			return err
		}

		provider, err := newProvider(ctx, cfg.IdP, logger)
		if err != nil {
			return fmt.Errorf("failed to configure identity provider: %w", err)
		}

		limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to configure sign-in limiter: %w", err)
		}
		defer closeLimiter()

		profiles, err := session.NewProfileValidator()
		if err != nil {
			return err
		}

		sessionOpts := []session.Option{
			session.WithLimiter(limiter),
			session.WithProfileValidator(profiles),
			session.WithMetrics(sessionMetrics),
			session.WithLogger(logger.With().Str("component", "session").Logger()),
		}

		if cfg.DatabaseURL != "" {
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer bunx.Close(db)

			ms, err := migrate.NewMigrator(db, migrations.Migrations).MigrationsWithStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to read migration status (run 'gatewayd db init'): %w", err)
			}
			if pending := ms.Unapplied(); len(pending) > 0 {
				return fmt.Errorf("%d pending migration(s); run 'gatewayd db migrate' first", len(pending))
			}

			sessionOpts = append(sessionOpts, session.WithCustomers(repository.NewBunCustomerRepository(db), decoder))
			logger.Info().Msg("customer registry enabled")
		}

		cookies := session.NewCookieJar(cfg.Cookies)
		manager := session.NewManager(provider, session.TargetsFrom(cfg.Routes), sessionOpts...)

		gateway := gwmiddleware.NewGatewayMiddleware(gwmiddleware.GatewayDependencies{
			Classifier:    access.NewClassifier(cfg.Routes.PublicPaths, cfg.Routes.AdminPrefix, cfg.Routes.ExcludedPrefixes),
			Decoder:       decoder,
			Cookies:       cookies,
			Targets:       gwmiddleware.RedirectTargetsFrom(cfg.Routes),
			Metrics:       gatewayMetrics,
			EnforceExpiry: cfg.Tokens.EnforceExpiry,
		})

		var upstream http.Handler
		if cfg.Upstream.URL != "" {
			upstream, err = server.NewUpstreamProxy(cfg.Upstream.URL)
			if err != nil {
				return fmt.Errorf("failed to configure upstream: %w", err)
			}
		}

		corsOpts := server.DefaultCORSOptions(cfg.CORS.AllowedOrigins)
		handler := server.NewH2CHandler(server.RouterOptions{
			Logger:         &logger,
			Gateway:        gateway,
			Sessions:       manager,
			Cookies:        cookies,
			Upstream:       upstream,
			MetricsHandler: tel.MetricsHandler,
			CORSOptions:    &corsOpts,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info().
				Str("addr", cfg.ServerAddr).
				Str("url", cfg.ServerURL).
				Str("upstream", cfg.Upstream.URL).
				Msg("starting gateway")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info().Msg("server stopped")
			return nil
		}
	},
}
