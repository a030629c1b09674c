package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port             string
	LogLevel         string
	LogFormat        string
	DatabaseURL      string
	LitePath         string
	RedisAddr        string
	OperationTimeout time.Duration
	OTelEnabled      bool
	OTelEndpoint     string
	JWTIssuer        string
	KeyFile          string
	RateLimitRPS     float64
	RateLimitBurst   int
	PolicyFile       string
	CORSOrigins      []string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:             env("PORT", "8080"),
		LogLevel:         env("LOG_LEVEL", "INFO"),
		LogFormat:        env("LOG_FORMAT", "text"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LitePath:         env("LITE_DB_PATH", "data/market.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		OperationTimeout: 5 * time.Second,
		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:     env("OTEL_ENDPOINT", "localhost:4317"),
		JWTIssuer:        env("JWT_ISSUER", "marketd"),
		KeyFile:          env("JWT_KEY_FILE", "data/signing.key"),
		RateLimitRPS:     10,
		RateLimitBurst:   20,
		PolicyFile:       os.Getenv("MARKET_POLICY_FILE"),
	}

	if v := os.Getenv("OPERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.OperationTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return cfg
}

// LiteMode reports whether the embedded SQLite store is used.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// SlogLevel maps LogLevel onto slog. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
