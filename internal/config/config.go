// Package config loads the service configuration from keygate.yaml and
// KEYGATE_-prefixed environment variables via viper. Flags bound by the
// CLI take precedence over both.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the effective configuration for one keygate process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Themes    ThemesConfig    `yaml:"themes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig selects the backing store. Driver is "sqlite" or "pgx";
// for sqlite, DSN is a data directory (empty means in-memory).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls credential settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// RateLimitConfig sets the per-route request budgets. Backend is "memory"
// or "redis".
type RateLimitConfig struct {
	Backend         string        `yaml:"backend"`
	RedisAddr       string        `yaml:"redis_addr"`
	VerifyPerWindow int           `yaml:"verify_per_window"`
	KeysPerWindow   int           `yaml:"keys_per_window"`
	Window          time.Duration `yaml:"window"`
	LoginPerMinute  int           `yaml:"login_per_minute"`
}

// ThemesConfig carries the baseline catalog every caller may access.
type ThemesConfig struct {
	Free []string `yaml:"free"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SetDefaults registers every default on the given viper instance. The CLI
// calls this before reading the config file so a missing file still yields
// a runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.verify_per_window", 60)
	v.SetDefault("rate_limit.keys_per_window", 10)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.login_per_minute", 5)

	v.SetDefault("themes.free", []string{"starter", "minimal", "classic"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load assembles a Config from the viper instance and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			JWTSecret:  v.GetString("auth.jwt_secret"),
			SessionTTL: v.GetDuration("auth.session_ttl"),
			BcryptCost: v.GetInt("auth.bcrypt_cost"),
		},
		RateLimit: RateLimitConfig{
			Backend:         v.GetString("rate_limit.backend"),
			RedisAddr:       v.GetString("rate_limit.redis_addr"),
			VerifyPerWindow: v.GetInt("rate_limit.verify_per_window"),
			KeysPerWindow:   v.GetInt("rate_limit.keys_per_window"),
			Window:          v.GetDuration("rate_limit.window"),
			LoginPerMinute:  v.GetInt("rate_limit.login_per_minute"),
		},
		Themes: ThemesConfig{
			Free: v.GetStringSlice("themes.free"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver %q not supported (sqlite, pgx)", c.Database.Driver)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.backend %q not supported (memory, redis)", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisAddr == "" {
		return fmt.Errorf("rate_limit.redis_addr required for the redis backend")
	}
	if c.RateLimit.VerifyPerWindow < 1 || c.RateLimit.KeysPerWindow < 1 {
		return fmt.Errorf("rate limit budgets must be positive")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window %s too small", c.RateLimit.Window)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not supported", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q not supported", c.Logging.Format)
	}
	return nil
}

// WriteTemplate renders the config as YAML, suitable for `keygate config
// init`. Secrets stay empty so they land in the environment instead.
func (c *Config) WriteTemplate() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("rendering config template: %w", err)
	}
	header := []byte("# Keygate configuration.\n# Values here can be overridden with KEYGATE_-prefixed environment\n# variables, e.g. KEYGATE_AUTH_JWT_SECRET.\n\n")
	return append(header, out...), nil
}

// Default returns the configuration produced by the registered defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}
