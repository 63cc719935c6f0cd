package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =empty,tenant=solkart")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "solkart"}, headers)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("payments-gateway", "dev")
	require.False(t, cfg.Traces)
	require.False(t, cfg.Metrics)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-team=payments")
	cfg = ConfigFromEnv("payments-gateway", "prod")
	require.True(t, cfg.Traces)
	require.True(t, cfg.Metrics)
	require.False(t, cfg.Insecure)
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.Equal(t, "payments", cfg.Headers["x-team"])
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "payments-gateway"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}
