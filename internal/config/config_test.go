package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.DBPath != "gamehost.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "gamehost.db")
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level = %v, want %v", cfg.Level(), slog.LevelInfo)
	}
	if cfg.SoftLimit() != 30*time.Millisecond {
		t.Errorf("SoftLimit = %v, want 30ms", cfg.SoftLimit())
	}
	if cfg.ConstructionBudget != 20*time.Second {
		t.Errorf("ConstructionBudget = %v, want 20s", cfg.ConstructionBudget)
	}
	if cfg.ReapInterval != 30*time.Second {
		t.Errorf("ReapInterval = %v, want 30s", cfg.ReapInterval)
	}
	if cfg.MaxSessionAborts != 3 {
		t.Errorf("MaxSessionAborts = %d, want 3", cfg.MaxSessionAborts)
	}
	if cfg.GameKind != "ludo" {
		t.Errorf("GameKind = %q, want %q", cfg.GameKind, "ludo")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GAMEHOST_LISTEN_ADDR", ":9090")
	t.Setenv("GAMEHOST_DB_PATH", "/tmp/test.db")
	t.Setenv("GAMEHOST_LOG_LEVEL", "debug")
	t.Setenv("GAMEHOST_SOFT_LIMIT_MS", "0")
	t.Setenv("GAMEHOST_REAP_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level = %v, want %v", cfg.Level(), slog.LevelDebug)
	}
	if cfg.SoftLimit() != 0 {
		t.Errorf("SoftLimit = %v, want 0", cfg.SoftLimit())
	}
	if cfg.ReapInterval != 5*time.Second {
		t.Errorf("ReapInterval = %v, want 5s", cfg.ReapInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"GAMEHOST_SOFT_LIMIT_MS", "-1", "must not be negative"},
		{"GAMEHOST_SOFT_LIMIT_MS", "fast", "parse env"},
		{"GAMEHOST_REAP_INTERVAL", "0s", "must be positive"},
		{"GAMEHOST_CONSTRUCTION_BUDGET", "-2s", "must be positive"},
		{"GAMEHOST_MAX_SESSION_ABORTS", "-3", "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("session created", "session_id", "01J")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["session_id"] != "01J" {
		t.Errorf("session_id = %v, want %q", entry["session_id"], "01J")
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info message written at warn level: %s", buf.String())
	}
}
