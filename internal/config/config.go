// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Host        string `env:"HOST" envDefault:"0.0.0.0"`
	Port        uint16 `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/palaver"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// TypingTimeout is the quiet period after which a typing signal expires.
	TypingTimeout time.Duration `env:"TYPING_TIMEOUT" envDefault:"3s"`

	// HistoryLimit bounds the recent-message fetch and the Redis cache.
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"50"`
}

// Load parses the configuration from the process environment.
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
