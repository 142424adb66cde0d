package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/storefront-labs/gateway/internal/auth"
	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/db/bunx"
	"github.com/storefront-labs/gateway/internal/identity"
	"github.com/storefront-labs/gateway/internal/session"
)

// newDecoder builds the claims codec for the configured verification mode, wrapped in a
// claims cache when one is configured.
func newDecoder(cfg config.TokenConfig, logger zerolog.Logger) (auth.Decoder, error) {
	mapper := auth.ClaimMapper{RolesClaim: cfg.RolesClaim}

	var decoder auth.Decoder
	switch cfg.Verification {
	case config.VerificationOIDC:
		verifying, err := auth.NewVerifyingDecoder(cfg.Issuer, cfg.Audience, mapper)
		if err != nil {
			return nil, fmt.Errorf("create verifying decoder: %w", err)
		}
		decoder = verifying
		logger.Info().Str("issuer", cfg.Issuer).Msg("session tokens verified against issuer key set")
	default:
		decoder = auth.NewUnverifiedDecoder(mapper)
		logger.Warn().Msg("session token signatures are NOT verified (tokens.verification=unverified)")
	}

	if cfg.CacheSize > 0 {
		decoder = auth.NewCachingDecoder(decoder, cfg.CacheSize, cfg.CacheTTL)
	}
	return decoder, nil
}

// newLimiter builds the sign-in attempt limiter. The returned cleanup closes any client it opened.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (session.AttemptLimiter, func(), error) {
	switch cfg.Backend {
	case config.RateLimitRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse ratelimit.redis_url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return session.NewRedisLimiter(client, cfg.MaxAttempts, cfg.Window), func() { _ = client.Close() }, nil
	default:
		limiter, err := session.NewMemoryLimiter(cfg.MaxAttempts, cfg.Window, 0)
		if err != nil {
			return nil, nil, err
		}
		return limiter, func() {}, nil
	}
}

// newProvider discovers the configured IdP, or returns identity.Unconfigured.
func newProvider(ctx context.Context, cfg config.IdentityProvider, logger zerolog.Logger) (identity.Provider, error) {
	if !cfg.Enabled() {
		logger.Warn().Msg("no identity provider configured; sign-in and sign-up are disabled")
		return identity.Unconfigured{}, nil
	}
	provider, err := identity.NewOIDCProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("issuer", cfg.Issuer).Msg("identity provider discovered")
	return provider, nil
}

// openDB is shared by the commands that touch the customer registry.
func openDB(ctx context.Context) (*bun.DB, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
