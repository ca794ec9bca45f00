// internal/config/config.go
//
// Runtime configuration, read from the environment after an optional .env file.
//
// Environment variables (defaults in parentheses):
//   PORT              HTTP port (5175)
//   LOG_LEVEL         zerolog level (info)
//   DATABASE_PATH     SQLite file (./data/defuse.db); ":memory:" for throwaway runs
//   JWT_SECRET        HMAC secret for auth tokens (dev_secret_change_me)
//   JWT_EXPIRES_DAYS  token lifetime in days (14)
//   COOKIE_NAME       auth cookie name (defuse_token)
//   CLIENT_ORIGIN     allowed CORS origin (http://localhost:5173)
//   NODE_ENV          "production" switches cookies to Secure + SameSite=None
//   DAILY_SALT        salt for the daily challenge seed (local_dev_salt)
//   TICK_INTERVAL     real time between timer ticks (1s)
//   SESSION_TTL       idle sessions are dropped after this long (30m)

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds every tunable of the server.
type Config struct {
	Port           string
	LogLevel       zerolog.Level
	DatabasePath   string
	JWTSecret      string
	JWTExpiresDays int
	CookieName     string
	ClientOrigin   string
	Production     bool
	DailySalt      string
	TickInterval   time.Duration
	SessionTTL     time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Warn().Err(err).Msg("invalid LOG_LEVEL, using info")
		lvl = zerolog.InfoLevel
	}
	return Config{
		Port:           getEnv("PORT", "5175"),
		LogLevel:       lvl,
		DatabasePath:   getEnv("DATABASE_PATH", "./data/defuse.db"),
		JWTSecret:      getEnv("JWT_SECRET", "dev_secret_change_me"),
		JWTExpiresDays: envInt("JWT_EXPIRES_DAYS", 14),
		CookieName:     getEnv("COOKIE_NAME", "defuse_token"),
		ClientOrigin:   getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		Production:     os.Getenv("NODE_ENV") == "production",
		DailySalt:      getEnv("DAILY_SALT", "local_dev_salt"),
		TickInterval:   envDuration("TICK_INTERVAL", time.Second),
		SessionTTL:     envDuration("SESSION_TTL", 30*time.Minute),
	}
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not a positive duration, using default")
	}
	return def
}
