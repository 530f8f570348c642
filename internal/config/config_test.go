package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.ServerPort)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 8*time.Second, cfg.SDMBackendTimeout)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 1000, cfg.RateLimitMax)
	assert.Equal(t, 5*time.Minute, cfg.VerificationCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.APIKeyCacheTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnv_ProductionLowersRateLimit(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "production")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.False(t, cfg.IsDevelopment())
}

func TestFromEnv_PostgresRequiresCredentials(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestFromEnv_BackendTimeoutBounded(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SDM_BACKEND_TIMEOUT", "30s")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "SDM_BACKEND_TIMEOUT")
}

func TestFromEnv_Origins(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestFromEnv_InvalidNumbers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RATE_LIMIT_MAX", "lots")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_DurationsMustBePositive(t *testing.T) {
	for _, key := range []string{"VERIFICATION_CACHE_TTL", "API_KEY_CACHE_TTL", "BREAKER_COOLDOWN", "RECEIPT_TTL"} {
		for _, value := range []string{"0s", "-1m"} {
			t.Run(key+"="+value, func(t *testing.T) {
				t.Setenv("STORE_DRIVER", "memory")
				t.Setenv(key, value)

				_, err := FromEnv()
				assert.ErrorContains(t, err, key)
			})
		}
	}
}
