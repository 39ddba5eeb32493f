// Package config provides environment-based configuration for the portal gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the portal gateway.
type Config struct {
	// UpstreamURL is the base URL of the deployment API that runs templates.
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	Host string
	Port int

	ShutdownTimeout time.Duration

	Relay    RelayConfig
	Forms    FormsConfig
	Refresh  RefreshConfig
	Secrets  SecretsConfig
	Tracing  TracingConfig
	LogLevel string
	LogJSON  bool
}

// RelayConfig controls how deployment progress is followed.
type RelayConfig struct {
	// StatusInterval is the period between status polls while a deployment is live.
	StatusInterval time.Duration
	// MaxPollAttempts bounds the poller; zero means unbounded.
	MaxPollAttempts int
	// NavigateDelay is how long after completion the client is told to move to the details view.
	NavigateDelay time.Duration
	// SubscriberBuffer is the per-subscriber channel size.
	SubscriberBuffer int
}

// FormsConfig holds form synthesis settings.
type FormsConfig struct {
	AutosaveDelay time.Duration
}

// RefreshConfig holds the refresh periods used by watchers.
type RefreshConfig struct {
	Detail  time.Duration
	History time.Duration
}

// SecretsConfig holds age keys used to encrypt stored cloud credentials.
type SecretsConfig struct {
	// AgePublicKey format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// TracingConfig configures OTLP trace export. Empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	// Insecure sends spans over plain HTTP.
	Insecure bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("PORTAL_API_URL is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PORTAL_API_URL must be an absolute URL, got %q", c.UpstreamURL)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Relay.StatusInterval <= 0 {
		return fmt.Errorf("RELAY_STATUS_INTERVAL must be positive")
	}
	if c.Relay.MaxPollAttempts < 0 {
		return fmt.Errorf("RELAY_MAX_POLL_ATTEMPTS must not be negative")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		UpstreamURL:     getEnv("PORTAL_API_URL", "http://localhost:8000"),
		UpstreamTimeout: getDurationEnv("PORTAL_API_TIMEOUT", 30*time.Second),
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/portal?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", "development-secret-key-min-32-chars"),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		Host:            getEnv("PORTAL_HOST", "0.0.0.0"),
		Port:            getIntEnv("PORTAL_PORT", 8090),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Relay: RelayConfig{
			StatusInterval:   getDurationEnv("RELAY_STATUS_INTERVAL", 30*time.Second),
			MaxPollAttempts:  getIntEnv("RELAY_MAX_POLL_ATTEMPTS", 120),
			NavigateDelay:    getDurationEnv("RELAY_NAVIGATE_DELAY", 2*time.Second),
			SubscriberBuffer: getIntEnv("RELAY_SUBSCRIBER_BUFFER", 256),
		},
		Forms: FormsConfig{
			AutosaveDelay: getDurationEnv("AUTOSAVE_DELAY", 30*time.Second),
		},
		Refresh: RefreshConfig{
			Detail:  getDurationEnv("REFRESH_DETAIL_INTERVAL", 3*time.Second),
			History: getDurationEnv("REFRESH_HISTORY_INTERVAL", 30*time.Second),
		},
		Secrets: SecretsConfig{
			AgePublicKey:  getEnv("CREDENTIALS_AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("CREDENTIALS_AGE_PRIVATE_KEY", ""),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "portal-gateway"),
			Insecure:    getEnv("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnv("LOG_FORMAT", "json") == "json",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
