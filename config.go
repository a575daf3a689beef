package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"tagpulse/mqtt"
	"tagpulse/reader"
	"tagpulse/selector"
	"tagpulse/solenoid"
)

const (
	defaultPulseSecs    = 0.5
	defaultPollSecs     = 0.1
	defaultCooldownSecs = 2.0
)

// Config is the main configuration structure for tagpulse.
type Config struct {
	// Reader configuration
	Reader reader.Config `yaml:"reader"`

	// Solenoid bank configuration (driver + channel/pin map)
	Solenoids solenoid.Config `yaml:"solenoids"`

	// Channel-selection strategy
	Selector selector.Config `yaml:"selector"`

	// MQTT connection settings (optional)
	MQTT mqtt.Config `yaml:"mqtt"`

	// General settings
	ClientID     string   `yaml:"client_id"`
	PulseSecs    float64  `yaml:"pulse_secs"`
	PollSecs     float64  `yaml:"poll_secs"`
	CooldownSecs *float64 `yaml:"cooldown_secs"` // nil = default; explicit 0 disables dedup
	LogLevel     string   `yaml:"log_level"`
}

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Solenoids.Channels) == 0 {
		return fmt.Errorf("no solenoid channels configured")
	}

	if p := c.Reader.TxPower; p != nil && (*p < -2 || *p > 25) {
		return fmt.Errorf("tx_power %d out of range -2..25", *p)
	}

	if c.PulseSecs < 0 || c.PollSecs < 0 {
		return fmt.Errorf("pulse_secs and poll_secs must be non-negative")
	}
	if c.CooldownSecs != nil && *c.CooldownSecs < 0 {
		return fmt.Errorf("cooldown_secs must be non-negative")
	}

	if c.ClientID == "" {
		c.ClientID = "tagpulse"
	}
	return nil
}

// PulseDuration returns how long each pulse holds a channel active.
func (c *Config) PulseDuration() time.Duration {
	if c.PulseSecs == 0 {
		return secs(defaultPulseSecs)
	}
	return secs(c.PulseSecs)
}

// PollInterval returns the delay between reader polls.
func (c *Config) PollInterval() time.Duration {
	if c.PollSecs == 0 {
		return secs(defaultPollSecs)
	}
	return secs(c.PollSecs)
}

// Cooldown returns the dedup window. Zero disables deduplication.
func (c *Config) Cooldown() time.Duration {
	if c.CooldownSecs == nil {
		return secs(defaultCooldownSecs)
	}
	return secs(*c.CooldownSecs)
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
