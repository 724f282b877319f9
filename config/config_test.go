package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"STORAGE_BUCKET", "LOCAL_STORAGE", "SQLITE_PATH", "PORT", "LOG_LEVEL", "EXPIRATION"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.LocalPath != "./data" {
		t.Errorf("Storage.LocalPath = %q, want ./data", cfg.Storage.LocalPath)
	}
	if cfg.Expiration != 5040*time.Hour {
		t.Errorf("Expiration = %v, want 5040h", cfg.Expiration)
	}
	if cfg.LoadAll.StepDelay != 500*time.Millisecond || cfg.LoadAll.MaxFailures != 5 {
		t.Errorf("LoadAll = %+v", cfg.LoadAll)
	}
	if cfg.Port != "8080" || cfg.HTTP.Timeout != 30*time.Second {
		t.Errorf("Port = %q, HTTP.Timeout = %v", cfg.Port, cfg.HTTP.Timeout)
	}
	if cfg.InclusiveBoundary {
		t.Error("InclusiveBoundary should default to false")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
expiration: 720h
inclusive_boundary: true
storage:
  sqlite_path: /tmp/visits.db
load_all:
  step_delay: 250ms
  max_failures: 2
http:
  user_agent: test-agent
port: "9000"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Expiration != 720*time.Hour {
		t.Errorf("Expiration = %v, want 720h", cfg.Expiration)
	}
	if !cfg.InclusiveBoundary {
		t.Error("InclusiveBoundary = false, want true")
	}
	if cfg.Storage.SQLitePath != "/tmp/visits.db" || cfg.Storage.LocalPath != "" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.LoadAll.StepDelay != 250*time.Millisecond || cfg.LoadAll.MaxFailures != 2 {
		t.Errorf("LoadAll = %+v", cfg.LoadAll)
	}
	if cfg.HTTP.UserAgent != "test-agent" {
		t.Errorf("HTTP.UserAgent = %q", cfg.HTTP.UserAgent)
	}
	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want env override 9100", cfg.Port)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v, want debug", level, err)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}

	t.Setenv("EXPIRATION", "thirty weeks")
	if _, err := Load(""); err == nil {
		t.Error("Load() with bad EXPIRATION should fail")
	}
}

func TestLevel(t *testing.T) {
	cfg := &Config{LogLevel: "loud"}
	if _, err := cfg.Level(); err == nil {
		t.Error("Level() with unknown level should fail")
	}
}
