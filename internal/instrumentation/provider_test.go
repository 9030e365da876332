package instrumentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	// The recorder must exist even when disabled so call sites can
	// record unconditionally.
	assert.NotNil(t, provider.Metrics())
	assert.NotNil(t, provider.Tracer("test"))
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderPrometheus(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		ServiceVersion:  "0.0.1",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	assert.True(t, provider.Enabled())
	assert.NotNil(t, provider.Metrics())
	assert.NotNil(t, provider.PrometheusHandler())
	assert.NotNil(t, provider.Tracer("test"))
}

func TestNewProviderStdoutHasNoPrometheusHandler(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: ExporterStdout,
		TracingExporter: ExporterStdout,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	assert.Nil(t, provider.PrometheusHandler())
}

func TestNewProviderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name: "unknown metrics exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: "statsd",
				TracingExporter: ExporterNone,
			},
		},
		{
			name: "unknown tracing exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: ExporterPrometheus,
				TracingExporter: "jaeger",
			},
		},
		{
			name: "otlp metrics without endpoint",
			config: Config{
				Enabled:         true,
				MetricsExporter: ExporterOTLP,
				TracingExporter: ExporterNone,
			},
		},
		{
			name: "otlp tracing without endpoint",
			config: Config{
				Enabled:         true,
				MetricsExporter: ExporterPrometheus,
				TracingExporter: ExporterOTLP,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			assert.Error(t, err)
		})
	}
}

func TestProviderShutdownFlushes(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	require.NoError(t, err)

	assert.NoError(t, provider.Shutdown(context.Background()))
}
