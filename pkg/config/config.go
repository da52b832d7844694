// Package config loads application configuration from ATRIUM_* environment
// variables with sane defaults and startup validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atriumhq/atrium/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	SSO           SSOConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string // External base URL used in SAML metadata and OAuth redirect URIs
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MaxIdle     int
	MaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the revocation and state store
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds token service configuration
type AuthConfig struct {
	Issuer           string
	AccessSecret     string
	RefreshSecret    string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	EncryptionKey    string // 32-byte key for SSO secret material at rest
	PasswordResetTTL time.Duration
	EmailVerifyTTL   time.Duration
	BcryptCost       int
}

// SSOConfig holds federation engine tunables
type SSOConfig struct {
	// ClockSkew is the tolerance applied to SAML NotBefore/NotOnOrAfter checks.
	ClockSkew time.Duration
	// RequestWindow bounds how long an outstanding login request or OAuth
	// state value stays redeemable. Replay protection derives from this TTL.
	RequestWindow time.Duration
	// IdPTimeout bounds outbound calls to the identity provider.
	IdPTimeout time.Duration
}

// RateLimitConfig holds login rate limiter settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ATRIUM_HOST", "0.0.0.0"),
			Port:            getEnv("ATRIUM_PORT", "8080"),
			BaseURL:         getEnv("ATRIUM_BASE_URL", "http://localhost:8080"),
			ReadTimeout:     getEnvDuration("ATRIUM_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ATRIUM_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ATRIUM_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ATRIUM_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("ATRIUM_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("ATRIUM_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("ATRIUM_POSTGRES_MAX_CONNS", 25),
			MaxIdle:     getEnvInt("ATRIUM_POSTGRES_MAX_IDLE", 5),
			MaxLifetime: getEnvDuration("ATRIUM_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:        getEnv("ATRIUM_REDIS_URL", "redis://localhost:6379"),
			Password:   getEnv("ATRIUM_REDIS_PASSWORD", ""),
			DB:         getEnvInt("ATRIUM_REDIS_DB", 0),
			MaxRetries: getEnvInt("ATRIUM_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("ATRIUM_REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			Issuer:           getEnv("ATRIUM_TOKEN_ISSUER", "atrium"),
			AccessSecret:     getEnv("ATRIUM_ACCESS_SECRET", ""),
			RefreshSecret:    getEnv("ATRIUM_REFRESH_SECRET", ""),
			AccessTokenTTL:   getEnvDuration("ATRIUM_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:  getEnvDuration("ATRIUM_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			EncryptionKey:    getEnv("ATRIUM_ENCRYPTION_KEY", ""),
			PasswordResetTTL: getEnvDuration("ATRIUM_PASSWORD_RESET_TTL", time.Hour),
			EmailVerifyTTL:   getEnvDuration("ATRIUM_EMAIL_VERIFY_TTL", 24*time.Hour),
			BcryptCost:       getEnvInt("ATRIUM_BCRYPT_COST", 0),
		},
		SSO: SSOConfig{
			ClockSkew:     getEnvDuration("ATRIUM_SAML_CLOCK_SKEW", 90*time.Second),
			RequestWindow: getEnvDuration("ATRIUM_SSO_REQUEST_WINDOW", 10*time.Minute),
			IdPTimeout:    getEnvDuration("ATRIUM_IDP_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("ATRIUM_LOGIN_RATELIMIT_ENABLED", true),
			RequestsPerWindow: getEnvInt("ATRIUM_LOGIN_RATELIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("ATRIUM_LOGIN_RATELIMIT_WINDOW", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("ATRIUM_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("ATRIUM_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("ATRIUM_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("ATRIUM_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("ATRIUM_OTEL_SERVICE_NAME", "atrium"),
			OTelServiceVersion: getEnv("ATRIUM_OTEL_SERVICE_VERSION", "dev"),
			OTelInsecure:       getEnvBool("ATRIUM_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("ATRIUM_POSTGRES_URL is required")
	}
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("ATRIUM_ACCESS_SECRET is required")
	}
	if c.Auth.RefreshSecret == "" {
		return fmt.Errorf("ATRIUM_REFRESH_SECRET is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("ATRIUM_ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.Auth.EncryptionKey))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.AccessTokenTTL > 15*time.Minute {
		return fmt.Errorf("ATRIUM_ACCESS_TOKEN_TTL must be within (0, 15m]")
	}
	if c.Auth.RefreshTokenTTL <= 0 || c.Auth.RefreshTokenTTL > 7*24*time.Hour {
		return fmt.Errorf("ATRIUM_REFRESH_TOKEN_TTL must be within (0, 168h]")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("ATRIUM_BASE_URL must be an absolute http(s) URL")
	}
	if c.SSO.ClockSkew < 0 || c.SSO.ClockSkew > 5*time.Minute {
		return fmt.Errorf("ATRIUM_SAML_CLOCK_SKEW must be within [0, 5m]")
	}
	if c.SSO.RequestWindow <= 0 {
		return fmt.Errorf("ATRIUM_SSO_REQUEST_WINDOW must be positive")
	}
	if c.SSO.IdPTimeout <= 0 {
		return fmt.Errorf("ATRIUM_IDP_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
