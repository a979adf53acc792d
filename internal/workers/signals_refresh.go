package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tarot-talks/internal/signals"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// StaleRefresher refreshes shares whose signals are older than a cutoff.
type StaleRefresher interface {
	RefreshStale(ctx context.Context, olderThan time.Duration, limit int) (signals.RefreshSummary, error)
}

// RefreshConfig controls the scheduled refresh
type RefreshConfig struct {
	Schedule  string        // cron expression, e.g. "@every 6h" or "0 */6 * * *"
	StaleAge  time.Duration // refresh shares not refreshed within this window
	BatchSize int           // max shares per run
	Timeout   time.Duration // per-run deadline
}

// SignalsRefreshWorker periodically refreshes metrics and follow state of
// Bluesky shares
type SignalsRefreshWorker struct {
	refresher StaleRefresher
	config    RefreshConfig
	scheduler *cron.Cron

	mu      sync.Mutex
	lastRun *RefreshStats
}

// RefreshStats describes the most recent run
type RefreshStats struct {
	Summary    signals.RefreshSummary `json:"summary"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Error      string                 `json:"error,omitempty"`
}

// NewSignalsRefreshWorker creates a new refresh worker
func NewSignalsRefreshWorker(refresher StaleRefresher, config RefreshConfig) *SignalsRefreshWorker {
	if config.StaleAge <= 0 {
		config.StaleAge = 6 * time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &SignalsRefreshWorker{
		refresher: refresher,
		config:    config,
	}
}

// Start schedules the refresh. Runs never overlap; a run still in progress
// when the next is due causes that tick to be skipped.
func (w *SignalsRefreshWorker) Start(ctx context.Context) error {
	logger := cron.VerbosePrintfLogger(&log.Logger)
	w.scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := w.scheduler.AddFunc(w.config.Schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", w.config.Schedule, err)
	}

	log.Info().
		Str("schedule", w.config.Schedule).
		Dur("stale_age", w.config.StaleAge).
		Int("batch_size", w.config.BatchSize).
		Msg("Starting signals refresh worker")

	w.scheduler.Start()
	return nil
}

// Stop stops scheduling and waits for a running refresh to finish.
func (w *SignalsRefreshWorker) Stop() {
	if w.scheduler == nil {
		return
	}
	<-w.scheduler.Stop().Done()
	log.Info().Msg("Signals refresh worker stopped")
}

// RunOnce performs a single refresh pass.
func (w *SignalsRefreshWorker) RunOnce(ctx context.Context) RefreshStats {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	stats := RefreshStats{StartedAt: time.Now()}
	summary, err := w.refresher.RefreshStale(ctx, w.config.StaleAge, w.config.BatchSize)
	stats.Summary = summary
	stats.FinishedAt = time.Now()
	if err != nil {
		stats.Error = err.Error()
		log.Error().Err(err).Msg("Scheduled signals refresh failed")
	}

	w.mu.Lock()
	w.lastRun = &stats
	w.mu.Unlock()
	return stats
}

// LastRun returns the most recent run, or nil before the first.
func (w *SignalsRefreshWorker) LastRun() *RefreshStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastRun == nil {
		return nil
	}
	stats := *w.lastRun
	return &stats
}
