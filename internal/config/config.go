// Package config loads service configuration from the environment. A .env
// file, if present, is folded in first for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the binaries need at startup.
type Config struct {
	Env  string // "dev" or "prod"
	Addr string

	// DatabaseURL empty means development mode: in-memory stores, audit to
	// the log, and an ephemeral signing key.
	DatabaseURL string

	Issuer         string
	Audience       string
	JWKSURL        string
	ClaimNamespace string
	SigningKeyFile string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	MigrationsDir string
	SeedsDir      string

	CookieSecure bool
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:            getenv("MARKETEDGE_ENV", "dev"),
		Addr:           getenv("MARKETEDGE_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("MARKETEDGE_DATABASE_URL"),
		Issuer:         getenv("MARKETEDGE_ISSUER", "https://auth.marketedge.app/"),
		Audience:       getenv("MARKETEDGE_AUDIENCE", "marketedge-api"),
		JWKSURL:        os.Getenv("MARKETEDGE_JWKS_URL"),
		ClaimNamespace: getenv("MARKETEDGE_CLAIM_NAMESPACE", "https://marketedge.app/"),
		SigningKeyFile: os.Getenv("MARKETEDGE_SIGNING_KEY_FILE"),
		MigrationsDir:  getenv("MARKETEDGE_MIGRATIONS_DIR", "migrations"),
		SeedsDir:       getenv("MARKETEDGE_SEEDS_DIR", "seeds"),
	}

	var err error
	if cfg.AccessTTL, err = getdur("MARKETEDGE_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = getdur("MARKETEDGE_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = getfloat("MARKETEDGE_RATE_LIMIT", 50); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getint("MARKETEDGE_RATE_BURST", 100); err != nil {
		return Config{}, err
	}

	cfg.CookieSecure = cfg.Env != "dev"
	if v := os.Getenv("MARKETEDGE_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: MARKETEDGE_COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = b
	}

	if cfg.Env != "dev" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: MARKETEDGE_DATABASE_URL is required when MARKETEDGE_ENV=%s", cfg.Env)
	}
	return cfg, nil
}

// DevMode reports whether the service runs on in-memory stores.
func (c Config) DevMode() bool { return c.DatabaseURL == "" }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getfloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
