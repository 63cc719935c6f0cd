package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsWritesRenamedKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWithOptions(Options{Service: "payments-gateway", Env: "test", Output: &buf, Level: "debug"})
	logger.Debug("verify: transfer not settled", slog.String("reference", "abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "verify: transfer not settled", line["message"])
	require.Equal(t, "payments-gateway", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "abc", line["reference"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWithOptionsRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger := SetupWithOptions(Options{Service: "payments-gateway", Output: &buf, File: path})
	logger.Info("started")

	require.FileExists(t, path)
	require.Contains(t, buf.String(), "started")
}

func TestLevelFiltering(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWithOptions(Options{Service: "svc", Output: &buf, Level: "warn"})
	logger.Info("hidden")
	require.Empty(t, buf.String())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "9xQe", MaskField("reference", "9xQe").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
}
