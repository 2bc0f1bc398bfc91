// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreMemory   = "memory"
	StoreBBolt    = "bbolt"
	StorePostgres = "postgres"

	AuthLocal  = "local"
	AuthGoTrue = "gotrue"
)

type Config struct {
	// Server
	Port           int
	Env            string
	CookieSecure   bool
	TrustProxy     bool
	TrustedProxies []netip.Prefix

	// Sessions
	SessionSecret      string
	SessionTTL         time.Duration
	SessionIdleTimeout time.Duration // 0 disables the idle check

	// Storage
	Store        string
	DataDir      string
	DatabaseURL  string
	StoreTimeout time.Duration

	// Identity
	AuthProvider    string
	SupabaseURL     string
	SupabaseAnonKey string

	// Logging
	LogLevel  string
	LogFormat string
}

// DevMode reports whether error details may be shown to clients.
func (c *Config) DevMode() bool {
	return c.Env == EnvDevelopment
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	env := strings.ToLower(getEnv("APP_ENV", EnvDevelopment))
	cfg := &Config{
		Port:         getEnvInt("PORT", 3000),
		Env:          env,
		CookieSecure: getEnvBool("COOKIE_SECURE", env == EnvProduction),
		TrustProxy:   getEnvBool("TRUST_PROXY", false),

		SessionSecret:      os.Getenv("SESSION_SECRET"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 0),

		Store:        strings.ToLower(getEnv("STORE", StoreBBolt)),
		DataDir:      getEnv("DATA_DIR", "./data"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 10*time.Second),

		AuthProvider:    strings.ToLower(getEnv("AUTH_PROVIDER", AuthLocal)),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("SUPABASE_ANON_KEY"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	proxies, err := ParseCIDRs(getEnvStringList("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations that Load cannot default away. Flags may
// change fields after Load, so callers re-run it before use.
func (c *Config) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Store {
	case StoreMemory, StoreBBolt:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("STORE must be memory, bbolt or postgres, got %q", c.Store)
	}
	switch c.AuthProvider {
	case AuthLocal:
	case AuthGoTrue:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required when AUTH_PROVIDER=gotrue")
		}
	default:
		return fmt.Errorf("AUTH_PROVIDER must be local or gotrue, got %q", c.AuthProvider)
	}
	if c.Env == EnvProduction && c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required in production")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	return nil
}

// ParseCIDRs parses CIDR strings. Bare IPs are treated as single-host ranges.
func ParseCIDRs(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

// NewLogger builds the root logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
