package fcrconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LBThreshold != 100 {
		t.Fatalf("expected default lb_threshold 100, got %d", cfg.LBThreshold)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fcr.yaml")
	contents := "port: 9090\nlb_threshold: 25\nremote_call_overhead: 3s\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LBThreshold != 25 {
		t.Fatalf("expected lb_threshold 25, got %d", cfg.LBThreshold)
	}
	if cfg.RemoteCallOverhead != 3*time.Second {
		t.Fatalf("expected remote_call_overhead 3s, got %v", cfg.RemoteCallOverhead)
	}
	// Values absent from the file keep their defaults.
	if cfg.ExitMaxWait != 30*time.Second {
		t.Fatalf("expected default exit_max_wait preserved, got %v", cfg.ExitMaxWait)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
