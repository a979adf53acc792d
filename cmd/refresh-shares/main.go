package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tarot-talks/internal/config"
	"tarot-talks/internal/database"
	"tarot-talks/internal/logging"
	"tarot-talks/internal/services"
	"tarot-talks/internal/signals"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup happens before exiting.
func run() int {
	shareID := flag.String("share", "", "Share id to refresh (optional, refreshes all stale Bluesky shares if not specified)")
	olderThan := flag.Duration("older-than", 0, "Refresh shares not refreshed within this window (default SIGNALS_REFRESH_STALE_AGE)")
	limit := flag.Int("limit", 0, "Maximum shares to refresh (default SIGNALS_REFRESH_BATCH_SIZE)")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close(db)

	svc, err := services.NewSignalServices(cfg, db)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize signal services")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if *shareID != "" {
		id, err := uuid.Parse(*shareID)
		if err != nil {
			color.Red("Invalid share id %q", *shareID)
			return 1
		}
		return refreshOne(ctx, svc.Controller, id)
	}

	if *olderThan <= 0 {
		*olderThan = cfg.RefreshStaleAge
	}
	if *limit <= 0 {
		*limit = cfg.RefreshBatchSize
	}

	summary, err := svc.Controller.RefreshStale(ctx, *olderThan, *limit)
	if err != nil {
		color.Red("Refresh failed: %s", signals.Message(err))
		return 1
	}

	color.Green("Refreshed %d stale shares", summary.Shares)
	fmt.Printf("  metrics:       %d\n", summary.Metrics)
	fmt.Printf("  relationships: %d\n", summary.Relationships)
	fmt.Printf("  failed:        %s\n", color.RedString("%d", summary.Failed))
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func refreshOne(ctx context.Context, controller *signals.Controller, id uuid.UUID) int {
	code := 0

	if share, err := controller.RefreshMetrics(ctx, id, nil); err != nil {
		color.Red("Metrics: %s", signals.Message(err))
		code = 1
	} else {
		color.Green("Metrics: %d likes, %d reposts, %d replies", share.LikeCount, share.RepostCount, share.ReplyCount)
	}

	if share, err := controller.RefreshRelationship(ctx, id, nil); err != nil {
		color.Red("Relationship: %s", signals.Message(err))
		code = 1
	} else {
		color.Green("Relationship: following=%s", followLabel(share.Following))
	}
	return code
}

func followLabel(following *bool) string {
	if following == nil {
		return "unknown"
	}
	return fmt.Sprintf("%t", *following)
}
