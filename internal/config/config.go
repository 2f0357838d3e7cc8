// Package config handles client, CLI and emulator configuration loaded from the environment.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public Dune API root. The transport appends /v1.
const DefaultBaseURL = "https://api.dune.com/api"

// Defaults for polling and request handling.
const (
	DefaultPollInterval    = 1 * time.Second
	DefaultMaxPollInterval = 5 * time.Second
	DefaultTimeout         = 5 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second
)

// WarnMissingAPIKey is the warning recorded when DUNE_API_KEY is unset.
const WarnMissingAPIKey = "DUNE_API_KEY is not set; requests will fail with an invalid API key error"

// EmulatorConfig holds settings for the local emulator server.
type EmulatorConfig struct {
	ListenAddr         string   // listen address (default ":8080")
	APIKey             string   // accepted API key (default "emulator-key")
	FixturesPath       string   // optional YAML fixture file
	CancelLag          int      // status polls before a cancel request is reflected (default 1)
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])
	RateLimitRPS       float64  // per-client requests per second, 0 disables limiting
	RateLimitBurst     int      // burst for RateLimitRPS (default 10)
}

// Config holds the configuration for talking to the query execution service.
type Config struct {
	APIKey  string // DUNE_API_KEY
	BaseURL string // DUNE_API_URL (default DefaultBaseURL)

	// Tracking
	PollInterval    time.Duration // floor between status polls
	MaxPollInterval time.Duration // ceiling for backoff between polls
	Timeout         time.Duration // client-side tracking deadline, 0 disables it
	CancelOnTimeout bool          // request remote cancel when Timeout fires

	// Transport
	RequestTimeout time.Duration // per-request HTTP timeout
	RateLimitRPS   float64       // outgoing requests per second, 0 disables pacing
	RateLimitBurst int           // burst for RateLimitRPS (default 1)

	LogLevel string // log level: debug, info, warn, error (default "info")

	Emulator EmulatorConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasAPIKey reports whether an API key was configured.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// LoadFromEnv loads configuration from environment variables.
// Malformed values fall back to defaults and are reported in Warnings.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		APIKey:          strings.TrimSpace(os.Getenv("DUNE_API_KEY")),
		BaseURL:         strings.TrimSpace(os.Getenv("DUNE_API_URL")),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		CancelOnTimeout: parseBoolEnvDefault("DUNE_CANCEL_ON_TIMEOUT", false),
		Emulator: EmulatorConfig{
			ListenAddr:   os.Getenv("EMULATOR_LISTEN_ADDR"),
			APIKey:       os.Getenv("EMULATOR_API_KEY"),
			FixturesPath: os.Getenv("EMULATOR_FIXTURES"),
		},
	}

	cfg.PollInterval = cfg.durationEnv("DUNE_POLL_INTERVAL", DefaultPollInterval)
	cfg.MaxPollInterval = cfg.durationEnv("DUNE_MAX_POLL_INTERVAL", DefaultMaxPollInterval)
	cfg.Timeout = cfg.durationEnv("DUNE_TIMEOUT", DefaultTimeout)
	cfg.RequestTimeout = cfg.durationEnv("DUNE_REQUEST_TIMEOUT", DefaultRequestTimeout)

	// Rate limiting
	if v := os.Getenv("DUNE_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid DUNE_RATE_LIMIT_RPS %q", v))
		}
	}
	if v := os.Getenv("DUNE_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid DUNE_RATE_LIMIT_BURST %q", v))
		}
	}

	if v := os.Getenv("EMULATOR_CANCEL_LAG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Emulator.CancelLag = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid EMULATOR_CANCEL_LAG %q", v))
			cfg.Emulator.CancelLag = 1
		}
	} else {
		cfg.Emulator.CancelLag = 1
	}

	if v := os.Getenv("EMULATOR_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Emulator.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid EMULATOR_RATE_LIMIT_RPS %q", v))
		}
	}
	if v := os.Getenv("EMULATOR_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Emulator.RateLimitBurst = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid EMULATOR_RATE_LIMIT_BURST %q", v))
		}
	}

	// CORS
	if v := os.Getenv("EMULATOR_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.Emulator.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 1
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"DUNE_MAX_POLL_INTERVAL (%s) is below DUNE_POLL_INTERVAL (%s); using a fixed interval",
			cfg.MaxPollInterval, cfg.PollInterval))
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.Emulator.ListenAddr == "" {
		cfg.Emulator.ListenAddr = ":8080"
	}
	if cfg.Emulator.APIKey == "" {
		cfg.Emulator.APIKey = "emulator-key"
	}
	if cfg.Emulator.RateLimitBurst == 0 {
		cfg.Emulator.RateLimitBurst = 10
	}
	if len(cfg.Emulator.CORSAllowedOrigins) == 0 {
		cfg.Emulator.CORSAllowedOrigins = []string{"*"}
	}
	if !cfg.HasAPIKey() {
		cfg.Warnings = append(cfg.Warnings, WarnMissingAPIKey)
	}

	return cfg, nil
}

// durationEnv parses key as a positive time.Duration (or 0 for Timeout-style
// "disabled" values). Invalid input records a warning and returns def.
func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return def
	}
	return d
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Env vars take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
