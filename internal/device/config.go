package device

import (
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/config"
	"github.com/fyrsmithlabs/roomsync/internal/ingest"
	"github.com/fyrsmithlabs/roomsync/internal/lease"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
)

// Config configures a Session.
type Config struct {
	// DeviceID identifies this device; it holds the leases.
	DeviceID   string
	Definition *roster.Definition
	// Grace is the lease lifetime of an unacknowledged edit.
	Grace  time.Duration
	Writer WriterConfig
	// ReportRetention is how long ingested reports stay in effect.
	ReportRetention time.Duration
	// ExpiryInterval is how often a front desk session expires old reports;
	// zero disables the check.
	ExpiryInterval time.Duration
	// SweepInterval is how often expired leases are dropped.
	SweepInterval time.Duration
}

// WriterConfig controls the background writer.
type WriterConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSecond  float64
	Burst          int
	QueueSize      int
}

// DefaultConfig returns the configuration for the built-in property.
func DefaultConfig(deviceID string) Config {
	return Config{
		DeviceID:        deviceID,
		Definition:      roster.DefaultDefinition(),
		Grace:           lease.DefaultGrace,
		Writer:          DefaultWriterConfig(),
		ReportRetention: ingest.DefaultRetention,
		ExpiryInterval:  time.Hour,
		SweepInterval:   time.Second,
	}
}

// DefaultWriterConfig returns the default writer settings.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxAttempts:    8,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		RatePerSecond:  20,
		Burst:          5,
		QueueSize:      256,
	}
}

// FromSettings builds a Config from the loaded configuration.
func FromSettings(cfg *config.Config, deviceID string, def *roster.Definition) Config {
	c := DefaultConfig(deviceID)
	c.Definition = def
	c.Grace = cfg.Lease.Grace.Duration()
	c.Writer = WriterConfig{
		MaxAttempts:    cfg.Writer.MaxAttempts,
		InitialBackoff: cfg.Writer.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Writer.MaxBackoff.Duration(),
		RatePerSecond:  cfg.Writer.RatePerSecond,
		Burst:          cfg.Writer.Burst,
		QueueSize:      cfg.Writer.QueueSize,
	}
	c.ReportRetention = cfg.Roster.ReportRetention.Duration()
	c.ExpiryInterval = cfg.Roster.ExpiryInterval.Duration()
	return c
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	d := DefaultConfig(c.DeviceID)
	if c.Definition == nil {
		c.Definition = d.Definition
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.ReportRetention <= 0 {
		c.ReportRetention = d.ReportRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	w := &c.Writer
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = d.Writer.MaxAttempts
	}
	if w.InitialBackoff <= 0 {
		w.InitialBackoff = d.Writer.InitialBackoff
	}
	if w.MaxBackoff < w.InitialBackoff {
		w.MaxBackoff = w.InitialBackoff
	}
	if w.RatePerSecond <= 0 {
		w.RatePerSecond = d.Writer.RatePerSecond
	}
	if w.Burst <= 0 {
		w.Burst = d.Writer.Burst
	}
	if w.QueueSize <= 0 {
		w.QueueSize = d.Writer.QueueSize
	}
}
