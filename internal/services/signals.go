// Package services wires the signal tracking components from configuration.
package services

import (
	"context"
	"fmt"
	"time"

	"tarot-talks/internal/bluesky"
	"tarot-talks/internal/config"
	"tarot-talks/internal/ratelimit"
	"tarot-talks/internal/signals"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SignalServices holds the wired engine components
type SignalServices struct {
	Pipeline   *signals.Pipeline
	Controller *signals.Controller
}

// NewSignalServices builds the engine on top of db
func NewSignalServices(cfg *config.Config, db *gorm.DB) (*SignalServices, error) {
	store := signals.NewGormStore(db)

	resolver, err := signals.NewResolver(cfg.SiteDomain, signals.NewGormContentLookup(db))
	if err != nil {
		return nil, err
	}

	client := bluesky.NewClient(bluesky.Config{
		ServiceURL:  cfg.BlueskyServiceURL,
		PublicURL:   cfg.BlueskyPublicAPI,
		Identifier:  cfg.BlueskyIdentifier,
		AppPassword: cfg.BlueskyAppPassword,
	})
	fetcher := bluesky.NewFetcher(client, cfg.SiteDomain, cfg.BlueskySiteHandle)

	if !cfg.HasBlueskyCredentials() {
		log.Warn().Msg("BLUESKY_IDENTIFIER or BLUESKY_APP_PASSWORD not set; mention scanning is disabled")
	}

	return &SignalServices{
		Pipeline:   signals.NewPipeline(store, fetcher, resolver, signals.NewLinguaDetector(), time.Now),
		Controller: signals.NewController(store, resolver, fetcher, fetcher, bluesky.IsPostURL, time.Now),
	}, nil
}

// NewLimiter returns a Redis-backed limiter when RATE_LIMIT_REDIS_ADDR is
// set and a process-local one otherwise. The returned close func releases
// the Redis connection.
func NewLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func() error, error) {
	if cfg.RateLimitRedisAddr == "" {
		return ratelimit.NewMemoryLimiter(nil), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RateLimitRedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to rate limit redis at %s: %w", cfg.RateLimitRedisAddr, err)
	}

	log.Info().Str("addr", cfg.RateLimitRedisAddr).Msg("Using Redis rate limiter")
	return ratelimit.NewRedisLimiter(client, "tarot-talks:ratelimit:", nil), client.Close, nil
}
