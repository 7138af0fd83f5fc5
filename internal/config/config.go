// ABOUTME: Configuration loading and parsing for the intake gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete intake gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WhatsAppConfig holds the external messaging gateway integration.
type WhatsAppConfig struct {
	// GatewayURL is the send endpoint of the external WhatsApp gateway.
	GatewayURL string `yaml:"gateway_url"`
	// APIKey authenticates outbound sends to the gateway.
	APIKey string `yaml:"api_key"`
	// WebhookSecret authenticates inbound webhook deliveries from the gateway.
	WebhookSecret string `yaml:"webhook_secret"`

	// FreeformWindow is how long after the last inbound message a
	// non-template outbound is still allowed. WhatsApp's policy window.
	FreeformWindow time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	FreeformWindowRaw string `yaml:"freeform_window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultFreeformWindow matches the messaging channel's 24-hour customer
// service window.
const DefaultFreeformWindow = 24 * time.Hour

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.WhatsApp.GatewayURL == "" {
		return fmt.Errorf("whatsapp.gateway_url is required")
	}
	return nil
}

func parseDurations(cfg *Config) error {
	if cfg.WhatsApp.FreeformWindowRaw == "" {
		cfg.WhatsApp.FreeformWindow = DefaultFreeformWindow
		return nil
	}

	window, err := time.ParseDuration(cfg.WhatsApp.FreeformWindowRaw)
	if err != nil {
		return fmt.Errorf("parsing freeform_window %q: %w", cfg.WhatsApp.FreeformWindowRaw, err)
	}
	cfg.WhatsApp.FreeformWindow = window
	return nil
}
