package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.AutosaveInterval != 30*time.Second {
		t.Errorf("AutosaveInterval = %v, want 30s", cfg.AutosaveInterval)
	}
	if cfg.SaveDebounce != 500*time.Millisecond {
		t.Errorf("SaveDebounce = %v, want 500ms", cfg.SaveDebounce)
	}
	if cfg.CheckpointTTL != 24*time.Hour {
		t.Errorf("CheckpointTTL = %v, want 24h", cfg.CheckpointTTL)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil (allow-all)", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AUTOSAVE_INTERVAL_SECONDS", "15")
	t.Setenv("SAVE_DEBOUNCE_MS", "250")
	t.Setenv("BACKEND_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()

	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.AutosaveInterval != 15*time.Second {
		t.Errorf("AutosaveInterval = %v, want 15s", cfg.AutosaveInterval)
	}
	if cfg.SaveDebounce != 250*time.Millisecond {
		t.Errorf("SaveDebounce = %v, want 250ms", cfg.SaveDebounce)
	}
	// Unparseable values fall back to the default instead of failing.
	if cfg.BackendTimeout != 10*time.Second {
		t.Errorf("BackendTimeout = %v, want 10s fallback", cfg.BackendTimeout)
	}
}

func TestParseOrigins(t *testing.T) {
	got := parseOrigins(" https://cbt.example.sch.id , http://localhost:5173 ,")
	if len(got) != 2 || got[0] != "https://cbt.example.sch.id" || got[1] != "http://localhost:5173" {
		t.Fatalf("parseOrigins = %v", got)
	}
	if parseOrigins("") != nil {
		t.Fatal("empty input should return nil")
	}
}
