package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.API.Port)
	}
	if cfg.Worker.PollInterval.Std() != 10*time.Second {
		t.Errorf("expected default poll interval, got %v", cfg.Worker.PollInterval)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	content := `
database:
  url: postgres://test:test@db:5432/test
api:
  port: 9090
worker:
  poll_interval: 30s
  default_command: ["python", "runner.py"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected db url: %s", cfg.Database.URL)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.API.Port)
	}
	if cfg.Worker.PollInterval.Std() != 30*time.Second {
		t.Errorf("expected 30s poll interval, got %v", cfg.Worker.PollInterval)
	}
	if len(cfg.Worker.DefaultCommand) != 2 || cfg.Worker.DefaultCommand[0] != "python" {
		t.Errorf("unexpected default command: %v", cfg.Worker.DefaultCommand)
	}
	// Незатронутые секции сохраняют defaults
	if cfg.Scheduler.TickInterval.Std() != time.Second {
		t.Errorf("expected default tick interval, got %v", cfg.Scheduler.TickInterval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	if err := os.WriteFile(path, []byte("api:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("API_PORT", "7070")
	t.Setenv("DB_URL", "postgres://env:env@db:5432/env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.API.Port)
	}
	if cfg.Database.URL != "postgres://env:env@db:5432/env" {
		t.Errorf("expected env db url, got %s", cfg.Database.URL)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	if err := os.WriteFile(path, []byte("api: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestAddr(t *testing.T) {
	if got := Addr(8080); got != ":8080" {
		t.Errorf("expected :8080, got %s", got)
	}
}
