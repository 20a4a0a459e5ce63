// Package config provides environment-driven configuration for the CHM service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for partner ingestion settings.
const (
	DefaultPartnerBaseURL = "https://partner.example.com"
	DefaultHTTPTimeout    = 10 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoff        = 1 * time.Second
	DefaultRateLimitRPS   = 10.0
	DefaultConcurrency    = 4
	DefaultPort           = 8080
)

// Config holds runtime configuration loaded from the environment.
type Config struct {
	// Server
	Port        int
	DatabaseURL string
	JWTSecret   string // optional; enables auth on mutating routes when set

	// Partner ingestion
	PartnerBaseURL  string
	PartnerAPIToken string
	HTTPTimeout     time.Duration
	ConnectTimeout  time.Duration
	MaxRetries      int
	Backoff         time.Duration
	RateLimitRPS    float64
	Concurrency     int
	RedactFields    []string
}

// Load reads configuration from CHM_* environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		DatabaseURL:     os.Getenv("CHM_DATABASE_URL"),
		JWTSecret:       os.Getenv("CHM_JWT_SECRET"),
		PartnerBaseURL:  DefaultPartnerBaseURL,
		PartnerAPIToken: os.Getenv("CHM_PARTNER_API_TOKEN"),
		HTTPTimeout:     DefaultHTTPTimeout,
		ConnectTimeout:  DefaultConnectTimeout,
		MaxRetries:      DefaultMaxRetries,
		Backoff:         DefaultBackoff,
		RateLimitRPS:    DefaultRateLimitRPS,
		Concurrency:     DefaultConcurrency,
	}

	if v := os.Getenv("CHM_PARTNER_API_BASE_URL"); v != "" {
		cfg.PartnerBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}

	var err error
	if cfg.HTTPTimeout, err = secondsEnv("CHM_HTTP_TIMEOUT_SECONDS", cfg.HTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = secondsEnv("CHM_HTTP_CONNECT_TIMEOUT_SECONDS", cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.Backoff, err = secondsEnv("CHM_HTTP_BACKOFF_SECONDS", cfg.Backoff); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intEnv("CHM_HTTP_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = intEnv("CHM_INGEST_CONCURRENCY", cfg.Concurrency); err != nil {
		return nil, err
	}
	if v := os.Getenv("CHM_PARTNER_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHM_PARTNER_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = rps
	}
	if v := os.Getenv("CHM_REDACT_FIELDS"); v != "" {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				cfg.RedactFields = append(cfg.RedactFields, field)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.PartnerBaseURL == "" {
		return fmt.Errorf("config error: partner base URL is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config error: HTTP timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config error: connect timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config error: max retries must be non-negative")
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("config error: backoff must be positive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config error: ingest concurrency must be at least 1")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("config error: partner rate limit must be positive")
	}
	return nil
}

// RedactSecret returns a non-recoverable placeholder for sensitive values.
func RedactSecret(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// SafeForLogging returns ingestion settings with credentials redacted.
func (c *Config) SafeForLogging() map[string]any {
	return map[string]any{
		"partner_api_base_url": c.PartnerBaseURL,
		"partner_api_token":    RedactSecret(c.PartnerAPIToken),
		"http_timeout":         c.HTTPTimeout.String(),
		"connect_timeout":      c.ConnectTimeout.String(),
		"max_retries":          c.MaxRetries,
		"backoff":              c.Backoff.String(),
		"rate_limit_rps":       c.RateLimitRPS,
		"concurrency":          c.Concurrency,
	}
}

func secondsEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return value, nil
}
