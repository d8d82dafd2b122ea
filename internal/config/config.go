// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the Postmark mailer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default Postmark settings.
const (
	defaultEndpoint = "https://api.postmarkapp.com/email"
	defaultTimeout  = 30 * time.Second
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend: "postmark", "stdout", or empty
	// for auto-detection.
	Provider string         `yaml:"provider"`
	Postmark PostmarkConfig `yaml:"postmark"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PostmarkConfig holds Postmark API configuration.
type PostmarkConfig struct {
	ServerToken string        `yaml:"server_token"`
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`

	// UseKeyring allows the server token to be read from the system keyring
	// when it is not configured directly.
	UseKeyring bool `yaml:"use_keyring"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// PostmarkConfigured returns true if a server token is set directly.
func (c *Config) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Postmark.Endpoint = defaultEndpoint
	c.Postmark.Timeout = defaultTimeout
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("POSTMARK_SERVER_TOKEN"); v != "" {
		c.Postmark.ServerToken = v
	}
	if v := os.Getenv("POSTMARK_ENDPOINT"); v != "" {
		c.Postmark.Endpoint = v
	}
	if v := os.Getenv("POSTMARK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Postmark.Timeout = d
		}
	}
	if v := os.Getenv("POSTMARK_USE_KEYRING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Postmark.UseKeyring = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
