// Package config loads roomsyncd configuration.
//
// Configuration is read from a YAML file and then overridden by ROOMSYNC_*
// environment variables. Every field has a default, so an empty file (or no
// file at all) yields a working single-box agent on the in-memory store.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
)

// Config holds the complete roomsyncd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Device    DeviceConfig    `koanf:"device"`
	Store     StoreConfig     `koanf:"store"`
	Lease     LeaseConfig     `koanf:"lease"`
	Writer    WriterConfig    `koanf:"writer"`
	Roster    RosterConfig    `koanf:"roster"`
	Journal   JournalConfig   `koanf:"journal"`
	Inbox     InboxConfig     `koanf:"inbox"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds the local HTTP API settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DeviceConfig identifies this agent among the devices sharing the store.
type DeviceConfig struct {
	// ID defaults to a random UUID when empty.
	ID string `koanf:"id"`
}

// StoreConfig selects and configures the remote document store.
type StoreConfig struct {
	Driver string      `koanf:"driver"`
	NATS   NATSConfig  `koanf:"nats"`
	Redis  RedisConfig `koanf:"redis"`
}

// NATSConfig configures the JetStream key-value store.
type NATSConfig struct {
	URL    string `koanf:"url"`
	Bucket string `koanf:"bucket"`
	// Embedded runs an in-process nats-server instead of dialing URL.
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	StoreDir string `koanf:"store_dir"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// LeaseConfig controls edit leases.
type LeaseConfig struct {
	Grace Duration `koanf:"grace"`
}

// WriterConfig controls the background store writer.
type WriterConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	// RatePerSecond caps store writes, retries included.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
	QueueSize     int     `koanf:"queue_size"`
}

// RosterConfig points at the property layout and report policy.
type RosterConfig struct {
	// Definition is a TOML roster file; empty uses the built-in layout.
	Definition      string   `koanf:"definition"`
	ReportRetention Duration `koanf:"report_retention"`
	ExpiryInterval  Duration `koanf:"expiry_interval"`
}

// JournalConfig configures the local activity journal.
type JournalConfig struct {
	// Path of the SQLite file; empty disables the journal.
	Path string `koanf:"path"`
}

// InboxConfig configures the report drop directory.
type InboxConfig struct {
	// Dir is watched for new reports; empty disables the inbox.
	Dir         string   `koanf:"dir"`
	SettleDelay Duration `koanf:"settle_delay"`
	// Operator is the front desk name reports are ingested as.
	Operator string `koanf:"operator"`
}

// LoggingConfig is the subset of logging settings exposed in the file.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used for missing values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8470,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			NATS: NATSConfig{
				URL:    "nats://127.0.0.1:4222",
				Bucket: "roomsync",
				Host:   "127.0.0.1",
				Port:   4222,
			},
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "roomsync:",
			},
		},
		Lease: LeaseConfig{Grace: Duration(5 * time.Second)},
		Writer: WriterConfig{
			MaxAttempts:    8,
			InitialBackoff: Duration(250 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
			RatePerSecond:  20,
			Burst:          5,
			QueueSize:      256,
		},
		Roster: RosterConfig{
			ReportRetention: Duration(5 * 24 * time.Hour),
			ExpiryInterval:  Duration(time.Hour),
		},
		Inbox: InboxConfig{
			SettleDelay: Duration(2 * time.Second),
			Operator:    "inbox",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "roomsync",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverNATS:
		if c.Store.NATS.Bucket == "" {
			return errors.New("store.nats.bucket is required")
		}
		if !c.Store.NATS.Embedded && c.Store.NATS.URL == "" {
			return errors.New("store.nats.url is required unless embedded")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory, nats or redis)", c.Store.Driver)
	}

	if c.Lease.Grace <= 0 {
		return errors.New("lease.grace must be positive")
	}
	if c.Writer.MaxAttempts < 1 {
		return fmt.Errorf("writer.max_attempts must be >= 1, got %d", c.Writer.MaxAttempts)
	}
	if c.Writer.InitialBackoff <= 0 || c.Writer.MaxBackoff < c.Writer.InitialBackoff {
		return errors.New("writer backoff must be positive with max_backoff >= initial_backoff")
	}
	if c.Writer.RatePerSecond <= 0 || c.Writer.Burst < 1 {
		return errors.New("writer.rate_per_second and writer.burst must be positive")
	}
	if c.Writer.QueueSize < 1 {
		return errors.New("writer.queue_size must be positive")
	}
	if c.Roster.ReportRetention <= 0 || c.Roster.ExpiryInterval <= 0 {
		return errors.New("roster.report_retention and roster.expiry_interval must be positive")
	}
	if c.Inbox.Dir != "" && c.Inbox.Operator == "" {
		return errors.New("inbox.operator is required when the inbox is enabled")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}
	return nil
}
