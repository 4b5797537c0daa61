package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings(\"\") error = %v", err)
	}
	if s.LogFile != "noxsuite_installer.log" {
		t.Errorf("LogFile = %q", s.LogFile)
	}
	if s.Retry.MaxRetries != engine.MaxStepRetries {
		t.Errorf("MaxRetries = %d, want %d", s.Retry.MaxRetries, engine.MaxStepRetries)
	}
	if s.Tracing.Exporter != "none" {
		t.Errorf("Exporter = %q, want none", s.Tracing.Exporter)
	}
}

func TestLoadSettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noxinstall.yaml")
	content := `
log_file: /tmp/nox.log
log_level: debug
assume_yes: true
tracing:
  exporter: otlp
  endpoint: localhost:4317
  insecure: true
timeouts:
  install: 10m
retry:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.LogFile != "/tmp/nox.log" || s.LogLevel != "debug" || !s.AssumeYes {
		t.Errorf("unexpected settings: %+v", s)
	}
	if s.Timeouts.Install != 10*time.Minute {
		t.Errorf("Install timeout = %v", s.Timeouts.Install)
	}
	// Unset keys keep their defaults.
	if s.Timeouts.Probe != 10*time.Second {
		t.Errorf("Probe timeout = %v", s.Timeouts.Probe)
	}
	if s.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", s.Retry.MaxRetries)
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "log_filez: x\n"},
		{"bad level", "log_level: loud\n"},
		{"otlp without endpoint", "tracing:\n  exporter: otlp\n"},
		{"too many retries", "retry:\n  max_retries: 50\n"},
		{"bad repository", "source_repository: not a url\n"},
		{"bad check host", "network:\n  check_hosts: [github.com]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadSettings(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !engine.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadSettings_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.LogLevel != "info" {
		t.Errorf("LogLevel = %q", s.LogLevel)
	}
}
