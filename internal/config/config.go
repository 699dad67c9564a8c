// Package config loads service settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gatherly.app/internal/identity"
)

const envPrefix = "GATHERLY_"

// Config is the full runtime configuration of cmd/api.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	// PGDSN selects the PostgreSQL store; empty runs in memory.
	PGDSN string `yaml:"pg_dsn"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`

	// StableItemSlugs keeps item slugs fixed after creation.
	StableItemSlugs bool `yaml:"stable_item_slugs"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Users seeds the in-memory directory; ignored with PostgreSQL.
	Users []identity.User `yaml:"users"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// DevTokens enables POST /v1/auth/token.
	DevTokens bool `yaml:"dev_tokens"`
}

type RateLimitConfig struct {
	Burst     int     `yaml:"burst"`
	PerSecond float64 `yaml:"per_second"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Burst:     20,
			PerSecond: 10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Load builds the configuration. A path of "" falls back to the
// GATHERLY_CONFIG environment variable; if both are empty no file is read.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("PG_DSN", &cfg.PGDSN)
	str("AUTH_SECRET", &cfg.Auth.Secret)

	if v := strings.TrimSpace(getenv(envPrefix + "RATE_BURST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRATE_BURST: %w", envPrefix, err)
		}
		cfg.RateLimit.Burst = n
	}
	if v := strings.TrimSpace(getenv(envPrefix + "RATE_PER_SEC")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_PER_SEC: %w", envPrefix, err)
		}
		cfg.RateLimit.PerSecond = f
	}
	if v := strings.TrimSpace(getenv(envPrefix + "DEV_TOKENS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEV_TOKENS: %w", envPrefix, err)
		}
		cfg.Auth.DevTokens = b
	}
	return nil
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit burst and per_second must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.DevTokens && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.dev_tokens requires auth.secret"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}
