package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goodtune/ispmeter/internal/config"
	"github.com/goodtune/ispmeter/internal/device/file"
	"github.com/goodtune/ispmeter/internal/device/routeros"
	"github.com/goodtune/ispmeter/internal/storage"
	"github.com/goodtune/ispmeter/internal/storage/bolt"
	"github.com/goodtune/ispmeter/internal/storage/redis"
	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
)

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Type)
	}
}

func openSource(cfg config.DeviceConfig, logger zerolog.Logger) (usage.SnapshotSource, error) {
	switch cfg.Source {
	case "routeros":
		return routeros.New(routeros.Config{
			URL:                cfg.URL,
			Username:           cfg.Username,
			Password:           cfg.Password,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Timeout:            parseDuration(cfg.FetchTimeout, usage.DefaultFetchTimeout),
		}, logger)
	case "file":
		return file.New(cfg.FixturePath, logger), nil
	default:
		return nil, fmt.Errorf("unsupported device source: %s", cfg.Source)
	}
}

// newEngine builds the accounting engine from configuration.
func newEngine(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*usage.Engine, error) {
	source, err := openSource(cfg.Device, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot source: %w", err)
	}

	return usage.NewEngine(source, store.Ledger(), usage.Config{
		Naming: usage.Naming{
			Prefix: cfg.Accounting.InterfacePrefix,
			Suffix: cfg.Accounting.InterfaceSuffix,
		},
		Location:     cfg.Accounting.Location(),
		FetchTimeout: parseDuration(cfg.Device.FetchTimeout, usage.DefaultFetchTimeout),
		Workers:      cfg.Accounting.Workers,
	}, logger), nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
