package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/config"
	"github.com/tradewire/relay/internal/locker"
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

// main runs the lock server daemon: the TCP lease endpoint plus a
// Prometheus metrics listener. The lease table lives in SQLite so a
// restart does not silently release every lock in the deployment.
func main() {
	cfg := config.Load()

	store, err := locker.OpenStore(cfg.LockStorePath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", cfg.LockStorePath).Msg("Failed to open lock store")
	}

	srv := locker.NewServer(store)
	if err := srv.Listen(cfg.LockHost, cfg.LockPort); err != nil {
		zlog.Fatal().Err(err).Int("port", cfg.LockPort).Msg("Failed to bind lock port")
	}
	zlog.Info().Str("addr", srv.Addr().String()).Msg("Lock server listening")

	go func() {
		if err := srv.Serve(); err != nil {
			zlog.Error().Err(err).Msg("Lock server stopped")
		}
	}()

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: mux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("Metrics listener stopped")
		}
	}()
	zlog.Info().Str("port", cfg.MetricsPort).Msg("Metrics listening")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down lock server...")

	if err := srv.Close(); err != nil {
		zlog.Error().Err(err).Msg("Error closing lock listener")
	}
	if err := metricsSrv.Close(); err != nil {
		zlog.Error().Err(err).Msg("Error closing metrics listener")
	}

	zlog.Info().Msg("Lock server exiting")
}
