package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eargollo/stickscan/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "mount_root: /run/media\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MountRoot != "/run/media" {
		t.Errorf("MountRoot: got %q", cfg.MountRoot)
	}
	if cfg.Engine.NATSURL == "" {
		t.Error("expected default nats_url to be set")
	}
	if cfg.HTTPAddr == "" {
		t.Error("expected default http_addr to be set")
	}
	if cfg.Engine.ScanTimeout != 2*time.Hour {
		t.Errorf("ScanTimeout: got %v, want 2h", cfg.Engine.ScanTimeout)
	}
	if cfg.UI != config.UIAuto {
		t.Errorf("UI: got %q, want auto", cfg.UI)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.SubjectPrefix != "engine" {
		t.Errorf("SubjectPrefix: got %q, want engine", cfg.Engine.SubjectPrefix)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, "engine:\n  request_timeout: 3s\n  scan_timeout: 45m\nschedule_shutdown_timeout: 5s\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout: got %v", cfg.Engine.RequestTimeout)
	}
	if cfg.Engine.ScanTimeout != 45*time.Minute {
		t.Errorf("ScanTimeout: got %v", cfg.Engine.ScanTimeout)
	}
	if cfg.ScheduleShutdownTimeout != 5*time.Second {
		t.Errorf("ScheduleShutdownTimeout: got %v", cfg.ScheduleShutdownTimeout)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, "scan_paths:\n  - /tmp\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoad_InvalidUI(t *testing.T) {
	path := writeConfig(t, "ui: gtk\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for invalid ui mode")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(config.EnvNATSURL, "nats://engine:4222")
	cfg, err := config.Load(writeConfig(t, "engine:\n  nats_url: nats://file:4222\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.NATSURL != "nats://engine:4222" {
		t.Errorf("NATSURL: got %q", cfg.Engine.NATSURL)
	}
}
