package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "LOW_BALANCE_THRESHOLD", "RECORD_FREE_USAGE", "RATE_LIMIT_RPM"} {
		setEnv(t, key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.LowBalanceThreshold.Equal(DefaultLowBalanceThreshold))
	assert.False(t, cfg.RecordFreeUsage)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "production")
	setEnv(t, "LOW_BALANCE_THRESHOLD", "2.5")
	setEnv(t, "RECORD_FREE_USAGE", "true")
	setEnv(t, "RATE_LIMIT_RPM", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "2.5", cfg.LowBalanceThreshold.String())
	assert.True(t, cfg.RecordFreeUsage)
	assert.Equal(t, 120, cfg.RateLimitRPM)
}

func TestLoad_InvalidThreshold(t *testing.T) {
	setEnv(t, "LOW_BALANCE_THRESHOLD", "not-a-number")
	_, err := Load()
	assert.Error(t, err)

	setEnv(t, "LOW_BALANCE_THRESHOLD", "-1")
	_, err = Load()
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "SOME_INT", "garbage")
	assert.Equal(t, 42, getEnvInt("SOME_INT", 42))

	setEnv(t, "SOME_BOOL", "yes-ish")
	assert.True(t, getEnvBool("SOME_BOOL", true))

	setEnv(t, "SOME_STR", "")
	assert.Equal(t, "fallback", getEnv("SOME_STR", "fallback"))
}
