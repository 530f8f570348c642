package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	ServerPort     string
	Env            string
	AllowedOrigins []string

	SDMBackendURL     string
	SDMBackendTimeout time.Duration

	RedisURL string

	RateLimitWindow time.Duration
	RateLimitMax    int

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool

	VerificationCacheTTL time.Duration
	APIKeyCacheTTL       time.Duration

	BreakerFailures int64
	BreakerCooldown time.Duration

	ReceiptSecret string
	ReceiptTTL    time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	env := strings.ToLower(getEnv("APP_ENV", EnvDevelopment))

	defaultMax := 1000
	if env == EnvProduction {
		defaultMax = 100
	}

	cfg := &Config{
		ServerPort:     getEnv("PORT", "3000"),
		Env:            env,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		SDMBackendURL:  strings.TrimRight(getEnv("SDM_BACKEND_URL", "http://localhost:5000"), "/"),
		RedisURL:       getEnv("REDIS_URL", ""),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "nfcverify.db"),
		ReceiptSecret:  getEnv("RECEIPT_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.SDMBackendTimeout, err = getDuration("SDM_BACKEND_TIMEOUT", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = getInt("RATE_LIMIT_MAX", defaultMax); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.VerificationCacheTTL, err = getDuration("VERIFICATION_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.APIKeyCacheTTL, err = getDuration("API_KEY_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	failures, err := getInt("BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	cfg.BreakerFailures = int64(failures)
	if cfg.BreakerCooldown, err = getDuration("BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReceiptTTL, err = getDuration("RECEIPT_TTL", 15*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot boot with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.SDMBackendTimeout < 5*time.Second || c.SDMBackendTimeout > 8*time.Second {
		return fmt.Errorf("SDM_BACKEND_TIMEOUT must be between 5s and 8s, got %s", c.SDMBackendTimeout)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	// Both cache backends treat a zero TTL as "never expires".
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"VERIFICATION_CACHE_TTL", c.VerificationCacheTTL},
		{"API_KEY_CACHE_TTL", c.APIKeyCacheTTL},
		{"BREAKER_COOLDOWN", c.BreakerCooldown},
		{"RECEIPT_TTL", c.ReceiptTTL},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env != EnvProduction }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
