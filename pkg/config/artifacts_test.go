package config

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

func testPlan(dir string, ai bool) engine.InstallConfig {
	cfg := engine.InstallConfig{
		InstallDirectory: dir,
		Modules:          []string{"noxguard", "noxpanel"},
		Mode:             engine.ModeFast,
		BackupExisting:   true,
	}
	if ai {
		cfg.EnableAI = true
		cfg.AIModels = []string{"mistral:7b-instruct"}
	}
	return cfg
}

func testSystem(osType engine.OSType) engine.SystemInfo {
	return engine.SystemInfo{
		OSType:         osType,
		Architecture:   "amd64",
		RuntimeVersion: "go1.25.2",
		MemoryGB:       16,
		CPUCores:       8,
	}
}

func artifactPaths(arts []Artifact) []string {
	out := make([]string, len(arts))
	for i, a := range arts {
		out[i] = a.Path
	}
	return out
}

func TestArtifacts_Paths(t *testing.T) {
	arts := Artifacts(testPlan("/srv/nox", false), testSystem(engine.OSLinux))
	want := []string{
		"config/.env",
		"config/database.json",
		"config/logging.json",
		"config/modules/noxguard.json",
		"config/modules/noxpanel.json",
		"config/network.json",
		"config/noxsuite.json",
		"docker/docker-compose.noxsuite.yml",
		"scripts/start-noxsuite.sh",
		"scripts/stop-noxsuite.sh",
	}
	if got := artifactPaths(arts); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Artifacts() paths = %v, want %v", got, want)
	}

	arts = Artifacts(testPlan(`C:\NoxSuite`, true), testSystem(engine.OSWindows))
	got := strings.Join(artifactPaths(arts), ",")
	for _, p := range []string{"config/ai/models.json", "scripts/start-noxsuite.bat", "scripts/stop-noxsuite.bat"} {
		if !strings.Contains(got, p) {
			t.Errorf("expected %s in %s", p, got)
		}
	}
}

func TestArtifacts_RenderValid(t *testing.T) {
	sr := NewSchemaRegistry()
	for _, ai := range []bool{false, true} {
		for _, a := range Artifacts(testPlan("/srv/nox", ai), testSystem(engine.OSLinux)) {
			data, err := a.Render()
			if err != nil {
				t.Fatalf("%s: Render() error = %v", a.Path, err)
			}
			gen := NewGenerator(sr, telemetry.NewNop().Session)
			if err := gen.validateRendered(a, data); err != nil {
				t.Errorf("%s (ai=%v): rendered document invalid: %v", a.Path, ai, err)
			}
		}
	}
}

func TestComposeDoc(t *testing.T) {
	doc := ComposeDoc(testPlan("/srv/nox", false))
	if _, ok := doc.Services["ollama"]; ok {
		t.Error("ollama service without AI")
	}
	if doc.Services["noxpanel"].Restart != "no" {
		t.Errorf("restart = %q, want no", doc.Services["noxpanel"].Restart)
	}

	cfg := testPlan("/srv/nox", true)
	cfg.AutoStart = true
	doc = ComposeDoc(cfg)
	for _, svc := range []string{"ollama", "langflow"} {
		if _, ok := doc.Services[svc]; !ok {
			t.Errorf("missing %s service", svc)
		}
	}
	if doc.Services["api"].Restart != "unless-stopped" {
		t.Errorf("restart = %q, want unless-stopped", doc.Services["api"].Restart)
	}
}

func TestLoggingDoc_DevMode(t *testing.T) {
	cfg := testPlan("/srv/nox", false)
	if got := LoggingDoc(cfg).Level; got != "INFO" {
		t.Errorf("level = %s", got)
	}
	cfg.DevMode = true
	if got := LoggingDoc(cfg).Level; got != "DEBUG" {
		t.Errorf("level = %s", got)
	}
}

func TestParseEnv(t *testing.T) {
	env, err := ParseEnv([]byte("# comment\n\nA=1\nB = \"two\"\n"))
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if env["A"] != "1" || env["B"] != "two" {
		t.Errorf("ParseEnv() = %v", env)
	}

	if _, err := ParseEnv([]byte("JUSTAKEY\n")); err == nil {
		t.Error("expected error for line without =")
	}
}

func TestGenerator_Generate(t *testing.T) {
	dir := t.TempDir()
	cfg := testPlan(dir, true)
	info := testSystem(engine.OSLinux)
	sr := NewSchemaRegistry()
	gen := NewGenerator(sr, telemetry.NewNop().Session)
	arts := Artifacts(cfg, info)

	res, err := gen.Generate(context.Background(), dir, arts, false, false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(res.Written) != len(arts) || len(res.Kept) != 0 {
		t.Fatalf("written=%d kept=%d, want %d/0", len(res.Written), len(res.Kept), len(arts))
	}

	for _, a := range arts {
		if err := sr.Check(dir, a); err != nil {
			t.Errorf("Check(%s) error = %v", a.Path, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "config", "noxsuite.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc NoxSuiteDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Installation.Directory != dir || !doc.Installation.Features.AIEnabled {
		t.Errorf("unexpected document: %+v", doc.Installation)
	}

	fi, err := os.Stat(filepath.Join(dir, "scripts", "start-noxsuite.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o100 == 0 {
		t.Errorf("start script not executable: %v", fi.Mode())
	}

	// Second run keeps everything unless overwrite is set.
	res, err = gen.Generate(context.Background(), dir, arts, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Kept) != len(arts) || len(res.Written) != 0 {
		t.Errorf("second run written=%d kept=%d", len(res.Written), len(res.Kept))
	}

	res, err = gen.Generate(context.Background(), dir, arts, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Written) != len(arts) {
		t.Errorf("overwrite run written=%d", len(res.Written))
	}
}

func TestGenerator_DryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(NewSchemaRegistry(), telemetry.NewNop().Session)
	arts := Artifacts(testPlan(dir, false), testSystem(engine.OSLinux))

	res, err := gen.Generate(context.Background(), dir, arts, true, true)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !res.DryRun || len(res.Written) != len(arts) {
		t.Errorf("unexpected result: %+v", res)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run created %d entries", len(entries))
	}
}

func TestGenerator_InvalidTemplate(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(NewSchemaRegistry(), telemetry.NewNop().Session)
	bad := jsonArtifact("config/database.json", SchemaDatabase, func() interface{} {
		return map[string]string{"incomplete": "config"}
	})

	_, err := gen.Generate(context.Background(), dir, []Artifact{bad}, true, false)
	if err == nil {
		t.Fatal("expected schema error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "config", "database.json")); !errors.Is(statErr, fs.ErrNotExist) {
		t.Errorf("invalid document was written: %v", statErr)
	}
}

func TestSchemaRegistry_CheckCorrupted(t *testing.T) {
	dir := t.TempDir()
	sr := NewSchemaRegistry()
	arts := Artifacts(testPlan(dir, false), testSystem(engine.OSLinux))

	var db Artifact
	for _, a := range arts {
		if a.Path == "config/database.json" {
			db = a
		}
	}

	if err := sr.Check(dir, db); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Check() on missing file = %v, want ErrNotExist", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "database.json"), []byte(`{"incomplete":"config"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sr.Check(dir, db); err == nil {
		t.Fatal("expected corrupted document to fail")
	}
}
