package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if !cfg.KioskMode {
		t.Fatal("kiosk mode should default on")
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Fatalf("session timeout = %s", cfg.SessionTimeout)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.ImageSize != "1024x1536" {
		t.Fatalf("image size = %q", cfg.ImageSize)
	}
	if cfg.RetryStrategy != "sequential" {
		t.Fatalf("retry strategy = %q", cfg.RetryStrategy)
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		t.Fatal("default instructions missing")
	}
	if !strings.HasPrefix(cfg.StyleSuffix, " ") {
		t.Fatal("style suffix must start with a separator so it appends cleanly")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9999")
	t.Setenv("APP_KIOSK_MODE", "false")
	t.Setenv("APP_SESSION_TIMEOUT", "90s")
	t.Setenv("IMAGE_RETRY_STRATEGY", "staggered")
	t.Setenv("GALLERY_MODE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if cfg.KioskMode {
		t.Fatal("kiosk mode should be off")
	}
	if cfg.SessionTimeout != 90*time.Second {
		t.Fatalf("session timeout = %s", cfg.SessionTimeout)
	}
	if cfg.RetryStrategy != "staggered" {
		t.Fatalf("retry strategy = %q", cfg.RetryStrategy)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"APP_SESSION_TIMEOUT", "5s"},
		{"APP_SESSION_TIMEOUT", "soon"},
		{"APP_KIOSK_MODE", "maybe"},
		{"APP_POLL_BACKOFF_CAP", "1s"},
		{"IMAGE_RETRY_STRATEGY", "eager"},
		{"GALLERY_MODE", "s3"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadInstructionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	if err := os.WriteFile(path, []byte("You are a muralist."), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("APP_INSTRUCTIONS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instructions != "You are a muralist." {
		t.Fatalf("instructions = %q", cfg.Instructions)
	}

	t.Setenv("APP_INSTRUCTIONS_FILE", filepath.Join(t.TempDir(), "missing.txt"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a missing instructions file")
	}
}
