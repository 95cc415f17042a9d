package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BACKEND_URL", "POLL_INTERVAL", "MAX_UPLOAD_FILES", "STATE_BACKEND"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != ":8080" {
		t.Fatalf("port = %q, want :8080", cfg.Port)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("poll interval = %v, want 3s", cfg.PollInterval)
	}
	if cfg.MaxUploadFiles != 50 {
		t.Fatalf("max upload files = %d, want 50", cfg.MaxUploadFiles)
	}
	if cfg.StateBackend != "sqlite" {
		t.Fatalf("state backend = %q, want sqlite", cfg.StateBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://odm.local:9000/")
	t.Setenv("POLL_INTERVAL", "5")
	t.Setenv("HEALTH_INTERVAL", "1m")
	t.Setenv("MAX_UPLOAD_FILES", "not-a-number")
	t.Setenv("STATE_BACKEND", "Redis")

	cfg := Load()
	if cfg.BackendURL != "http://odm.local:9000" {
		t.Fatalf("backend url = %q, want trailing slash trimmed", cfg.BackendURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("poll interval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.HealthInterval != time.Minute {
		t.Fatalf("health interval = %v, want 1m", cfg.HealthInterval)
	}
	if cfg.MaxUploadFiles != 50 {
		t.Fatalf("max upload files = %d, want fallback 50", cfg.MaxUploadFiles)
	}
	if cfg.StateBackend != "redis" {
		t.Fatalf("state backend = %q, want redis", cfg.StateBackend)
	}
}
