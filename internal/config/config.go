package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Device     DeviceConfig     `mapstructure:"device"`
	Accounting AccountingConfig `mapstructure:"accounting"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig defines the HTTP listener for metrics and the usage API
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// DeviceConfig defines where counter snapshots are read from
type DeviceConfig struct {
	Source             string `mapstructure:"source"` // "routeros" or "file"
	URL                string `mapstructure:"url"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	FixturePath        string `mapstructure:"fixture_path"`
	FetchTimeout       string `mapstructure:"fetch_timeout"`
}

// AccountingConfig defines the accounting cycle behaviour
type AccountingConfig struct {
	Schedule        string `mapstructure:"schedule"` // cron expression, e.g. "@every 5m"
	Timezone        string `mapstructure:"timezone"` // billing period boundaries
	InterfacePrefix string `mapstructure:"interface_prefix"`
	InterfaceSuffix string `mapstructure:"interface_suffix"`
	Workers         int    `mapstructure:"workers"`
	RunOnStart      bool   `mapstructure:"run_on_start"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("ISPMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)

	// Device defaults
	v.SetDefault("device.source", "routeros")
	v.SetDefault("device.url", "https://192.168.88.1")
	v.SetDefault("device.username", "admin")
	v.SetDefault("device.password", "")
	v.SetDefault("device.insecure_skip_verify", false)
	v.SetDefault("device.fixture_path", "/etc/ispmeter/snapshot.yaml")
	v.SetDefault("device.fetch_timeout", "30s")

	// Accounting defaults
	v.SetDefault("accounting.schedule", "@every 5m")
	v.SetDefault("accounting.timezone", "Local")
	v.SetDefault("accounting.interface_prefix", "<pppoe-")
	v.SetDefault("accounting.interface_suffix", ">")
	v.SetDefault("accounting.workers", 8)
	v.SetDefault("accounting.run_on_start", true)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/ispmeter/ledger.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "ispmeter")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Device.Source {
	case "routeros":
		if cfg.Device.URL == "" {
			return fmt.Errorf("device url is required for the routeros source")
		}
	case "file":
		if cfg.Device.FixturePath == "" {
			return fmt.Errorf("device fixture_path is required for the file source")
		}
	default:
		return fmt.Errorf("unsupported device source: %s (must be routeros or file)", cfg.Device.Source)
	}

	if _, err := time.ParseDuration(cfg.Device.FetchTimeout); err != nil {
		return fmt.Errorf("invalid device fetch_timeout %q: %w", cfg.Device.FetchTimeout, err)
	}

	if cfg.Accounting.Schedule == "" {
		return fmt.Errorf("accounting schedule is required")
	}
	if _, err := cron.ParseStandard(cfg.Accounting.Schedule); err != nil {
		return fmt.Errorf("invalid accounting schedule %q: %w", cfg.Accounting.Schedule, err)
	}
	if _, err := time.LoadLocation(cfg.Accounting.Timezone); err != nil {
		return fmt.Errorf("invalid accounting timezone %q: %w", cfg.Accounting.Timezone, err)
	}
	if cfg.Accounting.Workers <= 0 {
		cfg.Accounting.Workers = 1
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	return nil
}

// Location returns the time zone billing periods are computed in.
func (c AccountingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
