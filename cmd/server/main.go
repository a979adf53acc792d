package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tarot-talks/internal/config"
	"tarot-talks/internal/database"
	"tarot-talks/internal/handlers"
	"tarot-talks/internal/logging"
	"tarot-talks/internal/ratelimit"
	"tarot-talks/internal/services"
	"tarot-talks/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := services.NewSignalServices(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signal services")
	}

	limiter, closeLimiter, err := services.NewLimiter(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}
	defer closeLimiter()

	if memory, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go cleanupLimiter(ctx, memory, cfg.ScanRateWindow)
	}

	var refresh handlers.RefreshReporter
	if cfg.RefreshSchedule != "" {
		worker := workers.NewSignalsRefreshWorker(svc.Controller, workers.RefreshConfig{
			Schedule:  cfg.RefreshSchedule,
			StaleAge:  cfg.RefreshStaleAge,
			BatchSize: cfg.RefreshBatchSize,
		})
		if err := worker.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start signals refresh worker")
		}
		defer worker.Stop()
		refresh = worker
	}

	if err := handlers.RegisterValidators(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register request validators")
	}

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	handlers.RegisterRoutes(r, db, handlers.NewAdminHandler(svc.Controller, svc.Pipeline), handlers.RouteConfig{
		AdminPassword:  cfg.AdminPassword,
		Limiter:        limiter,
		ScanRateLimit:  cfg.ScanRateLimit,
		ScanRateWindow: cfg.ScanRateWindow,
		Refresh:        refresh,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}

func cleanupLimiter(ctx context.Context, limiter *ratelimit.MemoryLimiter, window time.Duration) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := limiter.Cleanup(window); removed > 0 {
				log.Debug().Int("keys", removed).Msg("Pruned idle rate limit keys")
			}
		}
	}
}
