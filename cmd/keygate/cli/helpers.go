package cli

import (
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/framingui/keygate/internal/config"
	"github.com/framingui/keygate/internal/ratelimit"
	"github.com/framingui/keygate/internal/store"
)

// buildLogger constructs the process logger from the logging config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured backing store and runs migrations.
func openStore(cfg config.DatabaseConfig) (*store.SQLStore, error) {
	return store.Open(cfg.Driver, cfg.DSN)
}

// buildLimiter constructs the configured rate limiter backend. The caller
// owns the returned closer.
func buildLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	limits := ratelimit.Limits{
		Routes: map[string]ratelimit.Limit{
			ratelimit.RouteVerify: {Requests: cfg.VerifyPerWindow, Window: cfg.Window},
			ratelimit.RouteKeys:   {Requests: cfg.KeysPerWindow, Window: cfg.Window},
		},
		Default: ratelimit.Limit{Requests: cfg.VerifyPerWindow, Window: cfg.Window},
	}

	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter := ratelimit.NewRedis(client, limits)
		return limiter, func() { client.Close() }, nil
	}

	limiter := ratelimit.NewMemory(limits)
	return limiter, limiter.Close, nil
}

// jwtSecret resolves the session signing secret, falling back to a dev
// value so a bare `keygate serve` still starts.
func jwtSecret(cfg *config.Config, logger *slog.Logger) string {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = viper.GetString("auth.jwt_secret")
	}
	if secret == "" {
		logger.Warn("auth.jwt_secret not set, using development default; set KEYGATE_AUTH_JWT_SECRET in production")
		secret = "keygate-dev-secret-change-me"
	}
	return secret
}
