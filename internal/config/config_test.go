package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "poll_interval_ms": 50},
		"databases": {"sqlite3": {"dsn": "data/ureka.db"}},
		"backend": {"api_url": "http://fallback.local"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "https://api.example.com/")
	t.Setenv("NEXT_PUBLIC_BACKEND_WS_PROTOCOL", "ws")
	t.Setenv("NEXT_PUBLIC_BACKEND_WS_HOST", "stream.example.com")
	t.Setenv("REDIS_ADDR", "cache:6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Backend.BaseURL(); got != "https://api.example.com" {
		t.Fatalf("unexpected base url %q", got)
	}
	if got := cfg.Backend.WebSocketQueryURL(); got != "ws://stream.example.com/v2/api/chat/ws/query" {
		t.Fatalf("unexpected ws url %q", got)
	}
	if cfg.Redis.Host != "cache" || cfg.Redis.Port != 6380 {
		t.Fatalf("redis override not applied: %+v", cfg.Redis)
	}
	if cfg.BasicConfig.PollInterval() != 50*time.Millisecond {
		t.Fatalf("poll interval not read from file: %v", cfg.BasicConfig.PollInterval())
	}
	if want := filepath.Join(dir, "data/ureka.db"); cfg.Databases["sqlite3"].DSN != want {
		t.Fatalf("sqlite dsn not resolved: %s", cfg.Databases["sqlite3"].DSN)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_API_URL", "https://backend.example.com")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.PollInterval() != DefaultPollInterval {
		t.Fatalf("expected default poll interval")
	}
	if cfg.BasicConfig.MaxFailures() != 5 {
		t.Fatalf("expected 5 max failures, got %d", cfg.BasicConfig.MaxFailures())
	}
	if cfg.BasicConfig.SessionTTL() != 24*time.Hour {
		t.Fatalf("expected 24h session ttl")
	}
	if !cfg.BasicConfig.AutoAttach() {
		t.Fatalf("auto attach should default to true")
	}
	if got := cfg.Backend.WebSocketQueryURL(); got != "wss://backend.example.com/v2/api/chat/ws/query" {
		t.Fatalf("unexpected default ws url %q", got)
	}
}

func TestLoadRequiresBackend(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_API_URL", "")
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error without backend url")
	}
}
