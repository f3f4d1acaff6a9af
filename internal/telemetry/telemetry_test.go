package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/groundd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Sampling.Rate = 2

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, false},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}, false},
		{"zero export interval", func(c *Config) {
			c.Enabled = true
			c.Metrics.ExportInterval = config.Duration(0)
		}, true},
		{"zero shutdown timeout", func(c *Config) {
			c.Enabled = true
			c.Shutdown.Timeout = config.Duration(0)
		}, true},
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

func TestIsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"[::1]:4317":            true,
		"http://localhost:4318": true,
		"collector:4317":        false,
		"10.0.0.5:4317":         false,
	} {
		cfg := &Config{Endpoint: endpoint}
		assert.Equal(t, want, cfg.isLocalEndpoint(), endpoint)
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	tt := NewTestTelemetry()

	_, span := tt.Tracer("groundd.test").Start(ctx, "Converse")
	span.SetAttributes(attribute.String("model", "gpt-4"))
	span.End()

	tt.AssertSpanExists(t, "Converse")
	tt.AssertSpanAttribute(t, "Converse", "model", "gpt-4")

	counter, err := tt.Meter("groundd.test").Int64Counter("groundd.turns")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "groundd.turns")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, tt.Shutdown(shutdownCtx))
}
