package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_STORAGE", StorageMemory)
	t.Setenv("LEDGER_TIMEZONE", "Asia/Jakarta")
	t.Setenv("APP_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5, cfg.SequenceMaxAttempts)
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AppCORSOrigins)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	require.Equal(t, 7*3600, offset)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("APP_STORAGE", "sqlite")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "APP_STORAGE")

	t.Setenv("APP_STORAGE", StorageMemory)
	t.Setenv("SEQUENCE_MAX_ATTEMPTS", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "SEQUENCE_MAX_ATTEMPTS")

	t.Setenv("SEQUENCE_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "LEDGER_TIMEZONE")
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})
	logger.Info("hidden")
	logger.Warn("shown", "voucherType", "sales")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "staging", line["env"])
	require.Equal(t, "sales", line["voucherType"])
}
