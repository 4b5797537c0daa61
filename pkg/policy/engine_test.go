package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func healthyInput() *PlanInput {
	return &PlanInput{
		Plan: engine.InstallConfig{
			InstallDirectory: "/home/ada/noxsuite",
			Modules:          []string{"noxpanel", "noxguard"},
			EnableAI:         true,
			Mode:             engine.ModeFast,
		},
		System: engine.SystemInfo{
			OSType:   engine.OSLinux,
			MemoryGB: 16,
			Encoding: engine.EncodingSupport{UTF8: true},
		},
		EstimatedSizeGB: 10.7,
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.Names()
	expected := []string{
		"large-footprint",
		"low-memory-ai",
		"unicode-support",
		"windows-admin",
		"windows-path-spaces",
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i] != name {
			t.Errorf("Policy %d: expected %s, got %s", i, name, policies[i])
		}
	}
}

func TestEvaluatePlan_Healthy(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluatePlan(context.Background(), healthyInput())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Healthy plan should be allowed")
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", result.Messages())
	}
	if len(result.EvaluatedPolicies) != 5 {
		t.Errorf("Expected 5 evaluated policies, got %d", len(result.EvaluatedPolicies))
	}
}

func TestEvaluatePlan_Warnings(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		mutate  func(in *PlanInput)
		code    string
		message string
	}{
		{
			name:    "low memory with AI",
			mutate:  func(in *PlanInput) { in.System.MemoryGB = 4 },
			code:    "low_memory_ai",
			message: "AI features may be slow with less than 8GB RAM",
		},
		{
			name:    "large footprint",
			mutate:  func(in *PlanInput) { in.EstimatedSizeGB = 26.5 },
			code:    "large_footprint",
			message: "Large installation size: ~26.5GB",
		},
		{
			name: "windows path with spaces",
			mutate: func(in *PlanInput) {
				in.System.OSType = engine.OSWindows
				in.System.Permissions.Elevated = true
				in.Plan.InstallDirectory = `C:\Program Files\NoxSuite`
			},
			code:    "windows_path_spaces",
			message: "Path with spaces may cause Docker issues on Windows",
		},
		{
			name: "windows without admin",
			mutate: func(in *PlanInput) {
				in.System.OSType = engine.OSWindows
				in.Plan.InstallDirectory = `C:\Users\ada\NoxSuite`
			},
			code:    "windows_admin",
			message: "Some features may require administrator privileges",
		},
		{
			name:    "no unicode",
			mutate:  func(in *PlanInput) { in.System.Encoding.UTF8 = false },
			code:    "unicode_support",
			message: "Limited Unicode support detected - some display issues possible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInput()
			tt.mutate(in)

			result, err := eng.EvaluatePlan(context.Background(), in)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if !result.Allowed {
				t.Error("Warnings must not block the plan")
			}
			if len(result.Violations) != 1 {
				t.Fatalf("Expected 1 violation, got %v", result.Messages())
			}
			v := result.Violations[0]
			if v.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, v.Code)
			}
			if v.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, v.Message)
			}
			if v.Severity != SeverityWarning {
				t.Errorf("Expected warning severity, got %s", v.Severity)
			}
		})
	}
}

func TestEvaluatePlan_AIDisabledSkipsMemoryWarning(t *testing.T) {
	eng := newTestEngine(t)

	in := healthyInput()
	in.Plan.EnableAI = false
	in.System.MemoryGB = 2

	result, err := eng.EvaluatePlan(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", result.Messages())
	}
}

func TestEvaluatePlan_NilInput(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := eng.EvaluatePlan(context.Background(), nil); err == nil {
		t.Error("Expected error for nil input")
	}
}

func TestEvaluatePlan_BlockingCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	rego := `package custom.root

import rego.v1

# Refuses installs into the filesystem root

deny contains violation if {
	input.plan.install_directory == "/"
	violation := {"message": "refusing to install into /", "severity": "error"}
}`
	if err := os.WriteFile(filepath.Join(dir, "no-root.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	in := healthyInput()
	in.Plan.InstallDirectory = "/"
	result, err := eng.EvaluatePlan(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Error severity finding should block the plan")
	}
	if len(result.Violations) != 1 || result.Violations[0].Policy != "no-root" {
		t.Errorf("Expected one no-root violation, got %+v", result.Violations)
	}
}

func TestLoadPolicies_DisabledDocument(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	doc := `{"name": "unicode-support", "enabled": false, "rego": "package builtin.unicode\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"}`
	if err := os.WriteFile(filepath.Join(dir, "quiet.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	in := healthyInput()
	in.System.Encoding.UTF8 = false
	result, err := eng.EvaluatePlan(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Overridden built-in still reported: %v", result.Messages())
	}
}

func TestLoadPolicies_ReplacesOperatorSet(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first := t.TempDir()
	writePolicyFile(t, filepath.Join(first, "min-cores.rego"), sampleRego)
	if err := eng.LoadPolicies(ctx, []string{first}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(eng.Names()) != 6 {
		t.Fatalf("Expected 6 policies, got %v", eng.Names())
	}

	if err := eng.LoadPolicies(ctx, []string{t.TempDir()}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	for _, name := range eng.Names() {
		if name == "min-cores" {
			t.Error("Reload should drop operator policies that are gone")
		}
	}
}

func TestLoadPolicies_CompileErrorKeepsActiveSet(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	good := t.TempDir()
	writePolicyFile(t, filepath.Join(good, "min-cores.rego"), sampleRego)
	if err := eng.LoadPolicies(ctx, []string{good}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	bad := t.TempDir()
	writePolicyFile(t, filepath.Join(bad, "broken.rego"), "package broken\n\ndeny contains if {")
	if err := eng.LoadPolicies(ctx, []string{bad}); err == nil {
		t.Fatal("Expected compile error")
	}

	names := eng.Names()
	if len(names) != 6 || names[0] != "large-footprint" {
		t.Errorf("Active set changed after failed load: %v", names)
	}
}

func TestCreateViolation(t *testing.T) {
	p := &Policy{Name: "p", Severity: SeverityWarning}

	v := createViolation(p, "plain message")
	if v.Message != "plain message" || v.Severity != SeverityWarning {
		t.Errorf("Unexpected violation from string: %+v", v)
	}

	v = createViolation(p, map[string]interface{}{
		"message":  "m",
		"code":     "c",
		"severity": "critical",
	})
	if v.Message != "m" || v.Code != "c" || v.Severity != SeverityCritical {
		t.Errorf("Unexpected violation from object: %+v", v)
	}
}

func TestExtractPackageName(t *testing.T) {
	if got := extractPackageName("# x\npackage a.b.c\n"); got != "a.b.c" {
		t.Errorf("Expected a.b.c, got %s", got)
	}
	if got := extractPackageName("deny := true"); got != "noxsuite.policies" {
		t.Errorf("Expected default package, got %s", got)
	}
}
