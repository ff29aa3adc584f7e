package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/ispmeter/internal/api"
	"github.com/goodtune/ispmeter/internal/config"
	"github.com/goodtune/ispmeter/internal/metrics"
	"github.com/goodtune/ispmeter/internal/systemd"
	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the accounting service",
	Long: `Start the accounting service: run accounting cycles on the configured
schedule and serve the usage API, /metrics and /health on one listener.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ispmeter")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Str("redis_host", cfg.Storage.Redis.Host).
		Msg("Storage initialized")

	// Initialize accounting engine
	engine, err := newEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("source", cfg.Device.Source).
		Str("timezone", cfg.Accounting.Timezone).
		Int("workers", cfg.Accounting.Workers).
		Msg("Accounting engine initialized")

	scheduler, err := usage.NewScheduler(
		engine,
		cfg.Accounting.Schedule,
		cfg.Accounting.Location(),
		cfg.Accounting.RunOnStart,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	// Initialize Metrics Server (also serves the usage API)
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, api.NewRouter(engine, logger), logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	scheduler.Start()

	logger.Info().Msg("ispmeter startup complete")
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	logger.Info().Msgf("Usage API: http://%s/api/usage", metricsAddr)

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	go runWatchdog(watchdogCtx, logger)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, running accounting cycle now")
			go func() {
				if _, err := engine.RunCycle(context.Background()); err != nil {
					logger.Warn().Err(err).Msg("On-demand accounting cycle failed")
				}
			}()
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	scheduler.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("ispmeter stopped")

	return nil
}

// runWatchdog pings the systemd watchdog until ctx is cancelled. It returns
// immediately when the unit has no watchdog configured.
func runWatchdog(ctx context.Context, logger zerolog.Logger) {
	interval := systemd.WatchdogInterval()
	if interval <= 0 {
		return
	}

	logger.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		case <-ctx.Done():
			return
		}
	}
}
