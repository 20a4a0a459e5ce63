package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPartnerBaseURL, cfg.PartnerBaseURL)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultBackoff, cfg.Backoff)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHM_PARTNER_API_BASE_URL", "https://feed.partner.dev/")
	t.Setenv("CHM_HTTP_TIMEOUT_SECONDS", "2.5")
	t.Setenv("CHM_HTTP_MAX_RETRIES", "5")
	t.Setenv("CHM_INGEST_CONCURRENCY", "8")
	t.Setenv("CHM_REDACT_FIELDS", "api_key, secret ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://feed.partner.dev", cfg.PartnerBaseURL, "trailing slash should be trimmed")
	assert.Equal(t, 2500*time.Millisecond, cfg.HTTPTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"api_key", "secret"}, cfg.RedactFields)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad timeout", "CHM_HTTP_TIMEOUT_SECONDS", "fast"},
		{"bad retries", "CHM_HTTP_MAX_RETRIES", "many"},
		{"bad port", "PORT", "eighty"},
		{"negative timeout", "CHM_HTTP_TIMEOUT_SECONDS", "-1"},
		{"zero concurrency", "CHM_INGEST_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "<empty>", RedactSecret(""))
	assert.Equal(t, "<redacted>", RedactSecret("super-secret-token"))
}

func TestSafeForLoggingNeverExposesToken(t *testing.T) {
	t.Setenv("CHM_PARTNER_API_TOKEN", "tok-12345")

	cfg, err := Load()
	require.NoError(t, err)

	safe := cfg.SafeForLogging()
	assert.Equal(t, "<redacted>", safe["partner_api_token"])
	for _, v := range safe {
		assert.NotEqual(t, "tok-12345", v)
	}
}
