package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dune-client/internal/config"
)

// UserConfig represents ~/.dune/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named set of connection and tracking defaults. Durations
// are Go duration strings such as "2s" or "10m".
type Profile struct {
	Host   string `yaml:"host,omitempty"`
	APIKey string `yaml:"api-key,omitempty"`
	Output string `yaml:"output,omitempty"`

	PollInterval    string `yaml:"poll-interval,omitempty"`
	MaxPollInterval string `yaml:"max-poll-interval,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"`
	CancelOnTimeout *bool  `yaml:"cancel-on-timeout,omitempty"`
}

// durationSetting is a profile duration and the env var that overrides it.
type durationSetting struct {
	name  string
	env   string
	value string
	field func(*config.Config) *time.Duration
}

func (p Profile) durations() []durationSetting {
	return []durationSetting{
		{"poll-interval", "DUNE_POLL_INTERVAL", p.PollInterval, func(c *config.Config) *time.Duration { return &c.PollInterval }},
		{"max-poll-interval", "DUNE_MAX_POLL_INTERVAL", p.MaxPollInterval, func(c *config.Config) *time.Duration { return &c.MaxPollInterval }},
		{"timeout", "DUNE_TIMEOUT", p.Timeout, func(c *config.Config) *time.Duration { return &c.Timeout }},
	}
}

// Validate checks the profile's duration settings.
func (p Profile) Validate() error {
	for _, d := range p.durations() {
		if d.value == "" {
			continue
		}
		if _, err := parseProfileDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
	}
	return nil
}

// applyTracking fills tracking settings whose env var is unset from the
// profile, keeping env > profile > default.
func (p Profile) applyTracking(env *config.Config) error {
	for _, d := range p.durations() {
		if d.value == "" || os.Getenv(d.env) != "" {
			continue
		}
		v, err := parseProfileDuration(d.value)
		if err != nil {
			return fmt.Errorf("profile %s %q: %w", d.name, d.value, err)
		}
		*d.field(env) = v
	}
	if p.CancelOnTimeout != nil && os.Getenv("DUNE_CANCEL_ON_TIMEOUT") == "" {
		env.CancelOnTimeout = *p.CancelOnTimeout
	}
	if env.MaxPollInterval < env.PollInterval {
		env.MaxPollInterval = env.PollInterval
	}
	return nil
}

func parseProfileDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// ActiveProfile returns the profile to use based on the override or current-profile.
func (c *UserConfig) ActiveProfile(override string) Profile {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p
	}
	return Profile{}
}

// ConfigDir returns the path to ~/.dune/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dune")
}

// ConfigPath returns the path to ~/.dune/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.dune/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes ~/.dune/config.yaml with owner-only permissions.
func SaveUserConfig(cfg *UserConfig) error {
	if err := os.MkdirAll(ConfigDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
