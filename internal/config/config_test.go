package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForScanMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "warp"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"unknown mode", "unknown log_level", "redis: addr"} {
		require.Contains(t, msg, want)
	}
}

func TestValidateFullModeNeedsTelegram(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram_token")

	cfg.Notify.TelegramToken = "123:abc"
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := strings.Join([]string{
		`mode = "ingest"`,
		``,
		`[ingest]`,
		`interval = "30s"`,
		`page_size = 50`,
		``,
		`[scanner]`,
		`size_buckets_usd = [25.0, 250.0]`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "ingest", cfg.Mode)
	require.Equal(t, 30*time.Second, cfg.Ingest.Interval.Duration)
	require.Equal(t, 50, cfg.Ingest.PageSize)
	require.Equal(t, []float64{25, 250}, cfg.Scanner.SizeBucketsUSD)
	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 70, cfg.Grouping.MinSimilarity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PREDARB_MODE", "alerts")
	t.Setenv("PREDARB_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("PREDARB_ALERTS_BACKOFF_BASE", "45s")
	t.Setenv("PREDARB_NOTIFY_EVENTS", "error, scan_pass")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, "alerts", cfg.Mode)
	require.Equal(t, "hunter2", cfg.Postgres.Password)
	require.Equal(t, 45*time.Second, cfg.Alerts.BackoffBase.Duration)
	require.Equal(t, []string{"error", "scan_pass"}, cfg.Notify.Events)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.S3.SecretKey = "aws-secret"

	red := RedactedConfig(&cfg)

	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Notify.TelegramToken)
	require.Equal(t, "***", red.S3.SecretKey)
	// Non-secrets survive, and the original is untouched.
	require.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
	require.Equal(t, "secret", cfg.Postgres.Password)
}
