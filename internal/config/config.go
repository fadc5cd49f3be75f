// Package config provides configuration parsing and validation for Cloudflyer.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Cloudflyer configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Solver   SolverConfig   `yaml:"solver"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProviderConfig contains relay connection settings.
type ProviderConfig struct {
	URL                  string        `yaml:"url"`                    // Relay server URL (http, https, ws, wss)
	Token                string        `yaml:"token"`                  // Provider token issued by the relay
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`     // Fixed delay between reconnect attempts
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = retry forever
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`        // Dial plus auth deadline
	Proxy                ProxyConfig   `yaml:"proxy"`
}

// ProxyConfig defines an upstream proxy for TCP channel dials.
type ProxyConfig struct {
	Address  string `yaml:"address"` // host:port, empty = direct dialing
	Type     string `yaml:"type"`    // socks5 (default) or http
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SolverConfig contains challenge solver service settings.
type SolverConfig struct {
	APIBase         string        `yaml:"api_base"`
	APIKey          string        `yaml:"api_key"`
	UsePolling      bool          `yaml:"use_polling"`      // Interval polling instead of long-polling
	PollingInterval time.Duration `yaml:"polling_interval"` // Only used with use_polling
	Timeout         time.Duration `yaml:"timeout"`          // Per bypass request
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Silent bool   `yaml:"silent"` // Discard all log output
}

// MetricsConfig defines the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 0,
			ConnectTimeout:       10 * time.Second,
		},
		Solver: SolverConfig{
			APIBase:         "https://solver.zetx.site",
			UsePolling:      false,
			PollingInterval: 2 * time.Second,
			Timeout:         30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
	}
}

// Template is a commented starter configuration, written by `cloudflyer init`.
// It parses to the same values as Default().
const Template = `# Cloudflyer configuration.

provider:
  # Relay server URL (http://, https://, ws://, or wss://).
  url: ""
  # Provider token issued by the relay.
  token: ""
  # Fixed delay between reconnect attempts.
  reconnect_interval: 5s
  # 0 retries forever.
  max_reconnect_attempts: 0
  connect_timeout: 10s
  # Optional upstream proxy for TCP channel dials.
  proxy:
    address: ""
    type: socks5
    username: ""
    password: ""

solver:
  api_base: "https://solver.zetx.site"
  api_key: ""
  use_polling: false
  polling_interval: 2s
  timeout: 30s

logging:
  level: info
  format: text
  silent: false

metrics:
  enabled: false
  address: "127.0.0.1:9090"
`

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		// Simple lookup
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors. Presence of the relay URL,
// token, and API key is enforced by the commands that need them.
func (c *Config) Validate() error {
	var errs []string

	// Validate provider settings
	if c.Provider.URL != "" && !isValidRelayURL(c.Provider.URL) {
		errs = append(errs, fmt.Sprintf("provider.url %q must be an http, https, ws, or wss URL", c.Provider.URL))
	}
	if c.Provider.ReconnectInterval <= 0 {
		errs = append(errs, "provider.reconnect_interval must be positive")
	}
	if c.Provider.MaxReconnectAttempts < 0 {
		errs = append(errs, "provider.max_reconnect_attempts must not be negative")
	}
	if c.Provider.ConnectTimeout <= 0 {
		errs = append(errs, "provider.connect_timeout must be positive")
	}
	if err := validateProxy(c.Provider.Proxy); err != nil {
		errs = append(errs, fmt.Sprintf("provider.proxy: %v", err))
	}

	// Validate solver settings
	if c.Solver.APIBase != "" && !isValidHTTPURL(c.Solver.APIBase) {
		errs = append(errs, fmt.Sprintf("solver.api_base %q must be an http or https URL", c.Solver.APIBase))
	}
	if c.Solver.PollingInterval <= 0 {
		errs = append(errs, "solver.polling_interval must be positive")
	}
	if c.Solver.Timeout <= 0 {
		errs = append(errs, "solver.timeout must be positive")
	}

	// Validate logging
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	// Validate metrics
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidRelayURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	default:
		return false
	}
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func validateProxy(p ProxyConfig) error {
	switch p.Type {
	case "", "socks5", "http":
	default:
		return fmt.Errorf("invalid type: %s (must be socks5 or http)", p.Type)
	}
	if p.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(p.Address); err != nil {
		return fmt.Errorf("invalid address %q: %v", p.Address, err)
	}
	return nil
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	// Create a deep copy by marshaling and unmarshaling
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Provider.Token != "" {
		redacted.Provider.Token = redactedValue
	}
	if redacted.Provider.Proxy.Password != "" {
		redacted.Provider.Proxy.Password = redactedValue
	}
	if redacted.Solver.APIKey != "" {
		redacted.Solver.APIKey = redactedValue
	}

	return redacted
}

// HasSensitiveData returns true if the config contains any sensitive data.
func (c *Config) HasSensitiveData() bool {
	return c.Provider.Token != "" ||
		c.Provider.Proxy.Password != "" ||
		c.Solver.APIKey != ""
}
