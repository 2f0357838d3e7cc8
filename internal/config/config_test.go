package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DUNE_API_KEY", "DUNE_API_URL", "DUNE_POLL_INTERVAL", "DUNE_MAX_POLL_INTERVAL",
	"DUNE_TIMEOUT", "DUNE_CANCEL_ON_TIMEOUT", "DUNE_REQUEST_TIMEOUT",
	"DUNE_RATE_LIMIT_RPS", "DUNE_RATE_LIMIT_BURST", "LOG_LEVEL",
	"EMULATOR_LISTEN_ADDR", "EMULATOR_API_KEY", "EMULATOR_FIXTURES",
	"EMULATOR_CANCEL_LAG", "EMULATOR_CORS_ALLOWED_ORIGINS",
	"EMULATOR_RATE_LIMIT_RPS", "EMULATOR_RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUNE_API_KEY", "secret-key")
	t.Setenv("DUNE_API_URL", "http://localhost:9000/api")
	t.Setenv("DUNE_POLL_INTERVAL", "250ms")
	t.Setenv("DUNE_MAX_POLL_INTERVAL", "2s")
	t.Setenv("DUNE_TIMEOUT", "90s")
	t.Setenv("DUNE_CANCEL_ON_TIMEOUT", "yes")
	t.Setenv("DUNE_REQUEST_TIMEOUT", "10s")
	t.Setenv("DUNE_RATE_LIMIT_RPS", "2.5")
	t.Setenv("DUNE_RATE_LIMIT_BURST", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EMULATOR_LISTEN_ADDR", ":9999")
	t.Setenv("EMULATOR_API_KEY", "emu")
	t.Setenv("EMULATOR_FIXTURES", "/tmp/fixtures.yaml")
	t.Setenv("EMULATOR_CANCEL_LAG", "3")
	t.Setenv("EMULATOR_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("EMULATOR_RATE_LIMIT_RPS", "20")
	t.Setenv("EMULATOR_RATE_LIMIT_BURST", "40")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.APIKey)
	assert.True(t, cfg.HasAPIKey())
	assert.Equal(t, "http://localhost:9000/api", cfg.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.MaxPollInterval)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.True(t, cfg.CancelOnTimeout)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 4, cfg.RateLimitBurst)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, ":9999", cfg.Emulator.ListenAddr)
	assert.Equal(t, "emu", cfg.Emulator.APIKey)
	assert.Equal(t, "/tmp/fixtures.yaml", cfg.Emulator.FixturesPath)
	assert.Equal(t, 3, cfg.Emulator.CancelLag)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Emulator.CORSAllowedOrigins)
	assert.InDelta(t, 20.0, cfg.Emulator.RateLimitRPS, 0.001)
	assert.Equal(t, 40, cfg.Emulator.RateLimitBurst)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultMaxPollInterval, cfg.MaxPollInterval)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.False(t, cfg.CancelOnTimeout)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, 1, cfg.RateLimitBurst)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Emulator.ListenAddr)
	assert.Equal(t, "emulator-key", cfg.Emulator.APIKey)
	assert.Equal(t, 1, cfg.Emulator.CancelLag)
	assert.Equal(t, []string{"*"}, cfg.Emulator.CORSAllowedOrigins)
	assert.Zero(t, cfg.Emulator.RateLimitRPS)
	assert.Equal(t, 10, cfg.Emulator.RateLimitBurst)
	assert.False(t, cfg.HasAPIKey())
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "DUNE_API_KEY")
}

func TestLoadFromEnv_InvalidValuesWarn(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUNE_API_KEY", "k")
	t.Setenv("DUNE_POLL_INTERVAL", "soon")
	t.Setenv("DUNE_TIMEOUT", "-5s")
	t.Setenv("DUNE_RATE_LIMIT_RPS", "fast")
	t.Setenv("DUNE_RATE_LIMIT_BURST", "0")
	t.Setenv("EMULATOR_CANCEL_LAG", "x")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, 1, cfg.RateLimitBurst)
	assert.Equal(t, 1, cfg.Emulator.CancelLag)
	assert.Len(t, cfg.Warnings, 5)
}

func TestLoadFromEnv_MaxBelowMinIsClamped(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUNE_API_KEY", "k")
	t.Setenv("DUNE_POLL_INTERVAL", "3s")
	t.Setenv("DUNE_MAX_POLL_INTERVAL", "1s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.MaxPollInterval)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "fixed interval")
}

func TestLoadFromEnv_ZeroTimeoutDisablesDeadline(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUNE_TIMEOUT", "0s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("DUNE_TEST_KEY=\"test_value\"\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DUNE_TEST_KEY", "")

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("DUNE_TEST_KEY"); val != "test_value" {
		t.Errorf("DUNE_TEST_KEY = %q, want %q", val, "test_value")
	}
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nnot a pair\nDUNE_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DUNE_COMMENT_KEY", "")

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("DUNE_COMMENT_KEY"); val != "value" {
		t.Errorf("DUNE_COMMENT_KEY = %q, want %q", val, "value")
	}
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("DUNE_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("DUNE_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	assert.Equal(t, "from_env", os.Getenv("DUNE_PRECEDENCE_KEY"))
}
