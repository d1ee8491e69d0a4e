package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures the runtime settings for the panel server and its CLI
// client.
type Config struct {
	Listen         string `mapstructure:"listen"`
	IptablesPath   string `mapstructure:"iptables-path"`
	Sudo           bool   `mapstructure:"sudo"`
	CommandTimeout string `mapstructure:"command-timeout"`
	CORSOrigin     string `mapstructure:"cors-origin"`
	LogLevel       string `mapstructure:"log-level"`
	Server         string `mapstructure:"server"`
	SessionFile    string `mapstructure:"session-file"`
	SessionTTL     string `mapstructure:"session-ttl"`
	Retries        int    `mapstructure:"retries"`
}

// Load reads configuration values from viper into a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to load configuration: %w", err)
	}
	return cfg, nil
}

// CommandTimeoutDuration parses CommandTimeout.
func (c Config) CommandTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("command-timeout", c.CommandTimeout)
}

// SessionTTLDuration parses SessionTTL.
func (c Config) SessionTTLDuration() (time.Duration, error) {
	return parsePositiveDuration("session-ttl", c.SessionTTL)
}

func parsePositiveDuration(key string, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
