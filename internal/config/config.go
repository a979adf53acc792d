// Package config loads runtime settings from .env files and the environment.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Config holds every setting the server and commands need.
type Config struct {
	Port    string
	GinMode string

	Database DatabaseConfig

	SiteDomain string

	BlueskyServiceURL  string
	BlueskyPublicAPI   string
	BlueskyIdentifier  string
	BlueskyAppPassword string
	BlueskySiteHandle  string

	AdminPassword string

	RateLimitRedisAddr string
	ScanRateLimit      int
	ScanRateWindow     time.Duration

	RefreshSchedule  string
	RefreshStaleAge  time.Duration
	RefreshBatchSize int

	LogLevel string
}

// Load reads .env (when present) and then environment variables through viper.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "tarot_talks")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SITE_DOMAIN", "tarottalks.app")
	v.SetDefault("BLUESKY_SERVICE_URL", "https://bsky.social")
	v.SetDefault("BLUESKY_PUBLIC_API", "https://public.api.bsky.app")
	v.SetDefault("BLUESKY_SITE_HANDLE", "tarottalks.bsky.social")
	v.SetDefault("ADMIN_PASSWORD", "admin123")
	v.SetDefault("SCAN_RATE_LIMIT", 5)
	v.SetDefault("SCAN_RATE_WINDOW", time.Minute)
	v.SetDefault("SIGNALS_REFRESH_STALE_AGE", 6*time.Hour)
	v.SetDefault("SIGNALS_REFRESH_BATCH_SIZE", 50)
	v.SetDefault("LOG_LEVEL", "info")

	return &Config{
		Port:    v.GetString("PORT"),
		GinMode: v.GetString("GIN_MODE"),
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		SiteDomain:         strings.ToLower(v.GetString("SITE_DOMAIN")),
		BlueskyServiceURL:  strings.TrimRight(v.GetString("BLUESKY_SERVICE_URL"), "/"),
		BlueskyPublicAPI:   strings.TrimRight(v.GetString("BLUESKY_PUBLIC_API"), "/"),
		BlueskyIdentifier:  v.GetString("BLUESKY_IDENTIFIER"),
		BlueskyAppPassword: v.GetString("BLUESKY_APP_PASSWORD"),
		BlueskySiteHandle:  v.GetString("BLUESKY_SITE_HANDLE"),
		AdminPassword:      v.GetString("ADMIN_PASSWORD"),
		RateLimitRedisAddr: v.GetString("RATE_LIMIT_REDIS_ADDR"),
		ScanRateLimit:      v.GetInt("SCAN_RATE_LIMIT"),
		ScanRateWindow:     v.GetDuration("SCAN_RATE_WINDOW"),
		RefreshSchedule:    v.GetString("SIGNALS_REFRESH_SCHEDULE"),
		RefreshStaleAge:    v.GetDuration("SIGNALS_REFRESH_STALE_AGE"),
		RefreshBatchSize:   v.GetInt("SIGNALS_REFRESH_BATCH_SIZE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}
}

// HasBlueskyCredentials reports whether mention scanning can authenticate.
func (c *Config) HasBlueskyCredentials() bool {
	return c.BlueskyIdentifier != "" && c.BlueskyAppPassword != ""
}
