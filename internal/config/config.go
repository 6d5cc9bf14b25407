package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string `env:"GAMEHOST_LISTEN_ADDR" envDefault:":8080"`
	DBPath     string `env:"GAMEHOST_DB_PATH"     envDefault:"gamehost.db"`
	LogLevel   string `env:"GAMEHOST_LOG_LEVEL"   envDefault:"info"`

	// SoftLimitMS is the governor soft limit in milliseconds. Zero disables
	// all governance.
	SoftLimitMS        int           `env:"GAMEHOST_SOFT_LIMIT_MS"        envDefault:"30"`
	ConstructionBudget time.Duration `env:"GAMEHOST_CONSTRUCTION_BUDGET"  envDefault:"20s"`
	ReapInterval       time.Duration `env:"GAMEHOST_REAP_INTERVAL"        envDefault:"30s"`
	MaxSessionAborts   int           `env:"GAMEHOST_MAX_SESSION_ABORTS"   envDefault:"3"`
	GameKind           string        `env:"GAMEHOST_GAME_KIND"            envDefault:"ludo"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SoftLimitMS < 0:
		return fmt.Errorf("GAMEHOST_SOFT_LIMIT_MS must not be negative, got %d", c.SoftLimitMS)
	case c.ConstructionBudget <= 0:
		return fmt.Errorf("GAMEHOST_CONSTRUCTION_BUDGET must be positive, got %s", c.ConstructionBudget)
	case c.ReapInterval <= 0:
		return fmt.Errorf("GAMEHOST_REAP_INTERVAL must be positive, got %s", c.ReapInterval)
	case c.MaxSessionAborts < 0:
		return fmt.Errorf("GAMEHOST_MAX_SESSION_ABORTS must not be negative, got %d", c.MaxSessionAborts)
	}
	return nil
}

// SoftLimit returns the governor soft limit as a duration.
func (c Config) SoftLimit() time.Duration {
	return time.Duration(c.SoftLimitMS) * time.Millisecond
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
