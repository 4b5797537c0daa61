package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRego = `# Flags installs on hosts with few cores
package site.cores

import rego.v1

deny contains "at least 4 CPU cores recommended" if {
	input.system.cpu_cores < 4
}`

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestReadPolicy_Rego(t *testing.T) {
	file := filepath.Join(t.TempDir(), "min-cores.rego")
	writePolicyFile(t, file, sampleRego)

	p, err := readPolicy(file)
	if err != nil {
		t.Fatalf("Failed to read policy: %v", err)
	}
	if p.Name != "min-cores" {
		t.Errorf("Expected name 'min-cores', got '%s'", p.Name)
	}
	if p.Description != "Flags installs on hosts with few cores" {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if p.Severity != SeverityWarning || !p.Enabled {
		t.Errorf("Expected enabled warning policy, got %+v", p)
	}
	if p.Metadata["source"] != file {
		t.Errorf("Expected source %s, got %v", file, p.Metadata["source"])
	}
}

func TestReadPolicy_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]interface{}{
		"name":     "json-policy",
		"rego":     sampleRego,
		"severity": "error",
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	file := filepath.Join(t.TempDir(), "policy.json")
	writePolicyFile(t, file, string(data))

	p, err := readPolicy(file)
	if err != nil {
		t.Fatalf("Failed to read policy: %v", err)
	}
	if p.Name != "json-policy" || p.Severity != SeverityError {
		t.Errorf("Unexpected policy %+v", p)
	}
	if !p.Enabled {
		t.Error("A document without \"enabled\" should be enabled")
	}
}

func TestReadPolicy_Rejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json without name", "noname.json", `{"rego": "package x"}`},
		{"json without rego", "norego.json", `{"name": "x"}`},
		{"malformed json", "broken.json", "not json"},
		{"unsupported extension", "policy.txt", "not a policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(dir, tt.file)
			writePolicyFile(t, file, tt.content)
			if _, err := readPolicy(file); err == nil {
				t.Errorf("Expected error for %s", tt.file)
			}
		})
	}
}

func TestSourceLoad(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "site")
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicyFile(t, filepath.Join(dir, "a.rego"), sampleRego)
	writePolicyFile(t, filepath.Join(dir, "nested", "b.rego"), sampleRego)
	writePolicyFile(t, filepath.Join(dir, "README.md"), "# policies")
	writePolicyFile(t, filepath.Join(dir, "broken.json"), "not json")
	single := filepath.Join(root, "c.rego")
	writePolicyFile(t, single, sampleRego)

	policies, err := NewSource(quietLogger(), dir, single).Load(context.Background())
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}

	if _, err := NewSource(quietLogger(), "/nonexistent/policies").Load(context.Background()); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"single line", "# One line\npackage x", "One line"},
		{"multi line", "# First\n# second\npackage x", "First second"},
		{"empty comment lines", "# First\n#\n# Second\npackage x", "First Second"},
		{"after blank lines", "\n\n# Late\npackage x", "Late"},
		{"no comments", "package x\ndeny := set()", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingComment(tt.content); got != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestSourceWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	err := NewSource(quietLogger(), dir).Watch(ctx, func(p []Policy, err error) {
		if err != nil {
			t.Errorf("Reload failed: %v", err)
			return
		}
		reloaded <- p
	})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writePolicyFile(t, filepath.Join(dir, "new.rego"), sampleRego)

	select {
	case p := <-reloaded:
		if len(p) != 1 || p[0].Name != "new" {
			t.Errorf("Unexpected reload result %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestEngineWatch_HotReload(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan error, 4)
	if err := eng.Watch(ctx, []string{dir}, func(_ int, err error) { reloads <- err }); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	in := healthyInput()
	in.Plan.InstallDirectory = "/"
	result, err := eng.EvaluatePlan(ctx, in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("Plan should pass before the policy exists: %v", result.Messages())
	}

	writePolicyFile(t, filepath.Join(dir, "no-root.rego"), `package custom.root

import rego.v1

deny contains violation if {
	input.plan.install_directory == "/"
	violation := {"message": "refusing to install into /", "severity": "error"}
}`)

	select {
	case err := <-reloads:
		if err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	result, err = eng.EvaluatePlan(ctx, in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Hot-loaded error policy should block the plan")
	}
}
