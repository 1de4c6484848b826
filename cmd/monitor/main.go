package main

import (
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/conditional"
	"github.com/tradewire/relay/internal/config"
	"github.com/tradewire/relay/internal/exchange"
	"github.com/tradewire/relay/internal/ledger"
	"github.com/tradewire/relay/internal/locker"
	"github.com/tradewire/relay/internal/metrics"
	"github.com/tradewire/relay/internal/sigtrap"
	"github.com/tradewire/relay/internal/throttle"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// monitor owns one polling pass over the pending-order queue.
type monitor struct {
	queue  *conditional.FileQueue
	engine *conditional.Engine
	trap   *sigtrap.Coordinator
	pacer  *throttle.Estimator
}

// poll reads the queue, evaluates every record and rewrites the queue
// without the resolved ones. Records that stay Waiting survive the
// rewrite untouched, so a crash mid-pass at worst re-evaluates.
func (m *monitor) poll() {
	records, err := m.queue.Read()
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to read queue")
		return
	}
	metrics.SetQueueDepth(len(records))
	if len(records) == 0 {
		return
	}

	resolved := make(map[string]bool)
	for i := range records {
		if m.trap.AnyTriggered() {
			break
		}
		rec := &records[i]
		if m.engine.Process(rec) == conditional.Delete {
			resolved[rec.Key] = true
		}
		m.pacer.Sleep(time.Second)
	}

	if len(resolved) == 0 {
		return
	}
	remaining, err := m.queue.RewriteWithout(resolved)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to rewrite queue")
		return
	}
	metrics.SetQueueDepth(remaining)
	zlog.Info().Int("resolved", len(resolved)).Int("remaining", remaining).Msg("Poll pass complete")
}

// main runs the conditional-order monitor. A cron schedule drives the
// polling passes; the signal coordinator keeps queue rewrites and
// ledger appends from being torn by a shutdown signal.
func main() {
	cfg := config.Load()
	trap := sigtrap.New()
	pacer := throttle.NewEstimator()

	// The monitor holds its locks across whole evaluation passes, so its
	// lease budget is configured separately from the short intake holds.
	lockOpts := locker.Options{
		Host:    cfg.LockHost,
		Port:    cfg.LockPort,
		Retry:   cfg.LockRetry,
		Timeout: time.Duration(cfg.MonitorExpire) * time.Second,
	}

	venueName := os.Getenv("EXCHANGE")
	if venueName == "" {
		venueName = "mimic"
	}
	venue := exchange.NewMock(venueName)
	venue.DataDir = cfg.DataDirectory
	queue := conditional.NewFileQueue(cfg.DataDirectory, cfg.QueueName, lockOpts, conditional.WithGuard(trap))
	books := ledger.NewWriter(venue, cfg.LedgerDirectory, lockOpts, ledger.WithGuard(trap))

	m := &monitor{
		queue:  queue,
		engine: conditional.NewEngine(venue, books),
		trap:   trap,
		pacer:  pacer,
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.MonitorSchedule, m.poll); err != nil {
		zlog.Fatal().Err(err).Str("schedule", cfg.MonitorSchedule).Msg("Invalid monitor schedule")
	}
	c.Start()
	zlog.Info().Str("schedule", cfg.MonitorSchedule).Str("queue", queue.Path()).Msg("Monitor started")

	// The signal coordinator owns shutdown: a signal outside a critical
	// section exits immediately, one inside exits at the section
	// boundary. Nothing left for main to do but stay alive.
	select {}
}
