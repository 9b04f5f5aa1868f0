// Package config defines server settings for the neoproctl control plane.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so settings files can use values like "90s".
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "60s" or "2m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the setting as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings holds the tunables for heartbeat classification, the deployment
// sweep, and the command protocol.
type Settings struct {
	// HeartbeatInterval is the expected spacing between device heartbeats.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	// StaleMultiplier scales HeartbeatInterval into the offline threshold.
	StaleMultiplier int `yaml:"stale_multiplier"`
	// WarningUptimePercent is the rolling-24h uptime below which a reachable
	// device is classified as warning.
	WarningUptimePercent float64 `yaml:"warning_uptime_percent"`
	// SweepInterval is how often the deployment scheduler looks for due work.
	SweepInterval Duration `yaml:"sweep_interval"`
	// CommandTimeout is how long a command may sit in executing before the
	// expiry sweep fails it.
	CommandTimeout Duration `yaml:"command_timeout"`
	// ExpiryInterval is how often the command expiry sweep runs.
	ExpiryInterval Duration `yaml:"expiry_interval"`
	// PollAttempts and PollInterval bound caller-side result polling.
	PollAttempts int      `yaml:"poll_attempts"`
	PollInterval Duration `yaml:"poll_interval"`
}

// Default returns the settings used when no file is provided.
func Default() Settings {
	return Settings{
		HeartbeatInterval:    Duration(60 * time.Second),
		StaleMultiplier:      3,
		WarningUptimePercent: 80,
		SweepInterval:        Duration(60 * time.Second),
		CommandTimeout:       Duration(10 * time.Minute),
		ExpiryInterval:       Duration(60 * time.Second),
		PollAttempts:         30,
		PollInterval:         Duration(2 * time.Second),
	}
}

// Load reads settings from a YAML file, starting from defaults so a partial
// file only overrides what it names.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects settings that would break classification or sweeping.
func (s Settings) Validate() error {
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if s.StaleMultiplier < 1 {
		return fmt.Errorf("stale_multiplier must be at least 1")
	}
	if s.WarningUptimePercent < 0 || s.WarningUptimePercent > 100 {
		return fmt.Errorf("warning_uptime_percent must be between 0 and 100")
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if s.ExpiryInterval <= 0 {
		return fmt.Errorf("expiry_interval must be positive")
	}
	if s.PollAttempts < 1 {
		return fmt.Errorf("poll_attempts must be at least 1")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}
