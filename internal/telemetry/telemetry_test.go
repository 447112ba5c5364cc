package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	_, span := tel.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid(), "disabled telemetry uses the no-op tracer")
	assert.NoError(t, tel.Shutdown(context.Background()))

	degraded, _ := tel.Degraded()
	assert.False(t, degraded)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"local insecure", func(c *Config) { c.Enabled = true }, false},
		{"loopback ip", func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" }, false},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"remote tls", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, true},
		{"no endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{Enabled: true, Endpoint: "127.0.0.1:4317", SampleRate: 0.5, Insecure: true}, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "roomsync", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.5, cfg.SampleRate)
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_Records(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(context.Background(), "reconcile")
	span.SetAttributes(attribute.String("doc", "roster"), attribute.Int("changed", 3))
	span.End()

	tel.AssertSpanAttribute(t, "reconcile", "doc", "roster")
	tel.AssertSpanAttribute(t, "reconcile", "changed", int64(3))

	counter, err := tel.Meter("test").Int64Counter("writes")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.MetricReader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "writes", rm.ScopeMetrics[0].Metrics[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}
