package main

import (
	"context"
	"errors"
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
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup happens before exiting.
func run() int {
	limit := flag.Int("limit", signals.DefaultScanLimit, "Maximum number of posts to fetch (1-100)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall scan deadline")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("Scanning Bluesky for mentions of %s...\n", color.CyanString(cfg.SiteDomain))
	result, err := svc.Pipeline.Scan(ctx, *limit)
	if err != nil {
		color.Red("Scan failed: %s", signals.Message(err))
		if errors.Is(err, signals.ErrConfiguration) {
			return 2
		}
		return 1
	}

	color.Green("%s", result.Message)
	fmt.Printf("  created: %s\n", color.GreenString("%d", result.Created))
	fmt.Printf("  skipped: %s\n", color.YellowString("%d", result.Skipped))
	fmt.Printf("  failed:  %s\n", color.RedString("%d", result.Failed))
	fmt.Printf("  total:   %d\n", result.Total)
	return 0
}
