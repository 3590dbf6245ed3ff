// Package config loads and validates the gateway configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OMPG_ prefix (e.g., OMPG_REGISTRY_URL
// overrides registry.url in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// Organization policies (tokens, registry rewrites, visibility) are file-only:
// they form a map keyed by organization name and do not map cleanly onto flat
// environment variables. Tokens inside them may reference environment variables
// with ${VAR_NAME} syntax so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manifest-gateway/manifest-gateway/internal/org"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	BuildSys   BuildSysConfig   `mapstructure:"buildsys"`
	PolicyGate PolicyGateConfig `mapstructure:"policygate"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	// Organizations maps organization names to their publishing policies.
	Organizations map[string]org.Policy `mapstructure:"organizations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RegistryConfig holds the application registry connection settings
type RegistryConfig struct {
	// URL is the base URL of the registry, e.g. https://quay.io
	URL string `mapstructure:"url"`
	// Timeout bounds every registry HTTP request
	Timeout time.Duration `mapstructure:"timeout"`
	// DefaultReleaseVersion is assigned to the first release of a repository
	// when the caller supplied no explicit version
	DefaultReleaseVersion string `mapstructure:"default_release_version"`
}

// IntakeConfig holds upload handling settings
type IntakeConfig struct {
	// MaxUncompressedSize bounds the declared uncompressed size of accepted
	// archives, in bytes
	MaxUncompressedSize int64 `mapstructure:"max_uncompressed_size"`
	// AllowedExtensions is the upload filename extension allow-list
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// BuildSysConfig holds the build system connection settings
type BuildSysConfig struct {
	// HubURL is the build system API endpoint
	HubURL string `mapstructure:"hub_url"`
	// RootURL is the file storage root that archive paths are relative to
	RootURL string `mapstructure:"root_url"`
	// Timeout bounds build system requests including archive downloads
	Timeout time.Duration `mapstructure:"timeout"`
}

// PolicyGateConfig holds the release policy gate settings. An empty URL
// disables gating entirely.
type PolicyGateConfig struct {
	URL            string        `mapstructure:"url"`
	Context        string        `mapstructure:"context"`
	ProductVersion string        `mapstructure:"product_version"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a policy gate is configured.
func (p *PolicyGateConfig) Enabled() bool {
	return p.URL != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Registry
		"registry.url",
		"registry.timeout",
		"registry.default_release_version",

		// Intake
		"intake.max_uncompressed_size",
		"intake.allowed_extensions",

		// Build system
		"buildsys.hub_url",
		"buildsys.root_url",
		"buildsys.timeout",

		// Policy gate
		"policygate.url",
		"policygate.context",
		"policygate.product_version",
		"policygate.timeout",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/manifest-gateway")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("OMPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	for name, policy := range cfg.Organizations {
		policy.OAuthToken = expandEnv(policy.OAuthToken)
		cfg.Organizations[name] = policy
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")

	// Registry defaults
	v.SetDefault("registry.url", "https://quay.io")
	v.SetDefault("registry.timeout", "30s")
	v.SetDefault("registry.default_release_version", "1.0.0")

	// Intake defaults
	v.SetDefault("intake.max_uncompressed_size", 20*1024*1024)
	v.SetDefault("intake.allowed_extensions", []string{".zip"})

	// Build system defaults
	v.SetDefault("buildsys.timeout", "120s")

	// Policy gate defaults
	v.SetDefault("policygate.timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "manifest-gateway")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate registry
	if c.Registry.URL == "" {
		return fmt.Errorf("registry.url is required")
	}
	if c.Registry.Timeout <= 0 {
		return fmt.Errorf("registry.timeout must be positive")
	}

	// Validate intake
	if c.Intake.MaxUncompressedSize <= 0 {
		return fmt.Errorf("intake.max_uncompressed_size must be positive")
	}
	if len(c.Intake.AllowedExtensions) == 0 {
		return fmt.Errorf("intake.allowed_extensions must not be empty")
	}
	for _, ext := range c.Intake.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid intake extension %q (must start with a dot)", ext)
		}
	}

	// Validate build system when configured
	if c.BuildSys.HubURL != "" && c.BuildSys.RootURL == "" {
		return fmt.Errorf("buildsys.root_url is required when buildsys.hub_url is set")
	}

	// Validate policy gate when configured
	if c.PolicyGate.Enabled() {
		if c.PolicyGate.Context == "" {
			return fmt.Errorf("policygate.context is required when policygate.url is set")
		}
		if c.PolicyGate.ProductVersion == "" {
			return fmt.Errorf("policygate.product_version is required when policygate.url is set")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
