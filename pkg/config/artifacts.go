package config

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// Format is the on-disk encoding of an artifact.
type Format string

const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatEnv    Format = "env"
	FormatScript Format = "script"
)

// ComposeNetworkName is the docker network every service joins.
const ComposeNetworkName = "noxsuite_network"

// ComposeFilePath is the generated compose file, relative to the install directory.
const ComposeFilePath = "docker/docker-compose.noxsuite.yml"

// Artifact is one generated file below the install directory.
type Artifact struct {
	// Path is relative to the install directory, slash separated.
	Path string

	// Schema names the registry schema the content must satisfy. Empty for
	// scripts.
	Schema string

	Format Format
	Mode   fs.FileMode

	// Render produces the file content.
	Render func() ([]byte, error)
}

// Artifacts returns every file an installation of cfg generates, sorted by
// path.
func Artifacts(cfg engine.InstallConfig, info engine.SystemInfo) []Artifact {
	out := []Artifact{
		jsonArtifact("config/noxsuite.json", SchemaNoxSuite, func() interface{} { return NoxSuiteDoc(cfg, info) }),
		{
			Path:   "config/.env",
			Schema: SchemaEnv,
			Format: FormatEnv,
			Mode:   0o600,
			Render: func() ([]byte, error) { return renderEnv(EnvVars(cfg, info)), nil },
		},
		jsonArtifact("config/database.json", SchemaDatabase, func() interface{} { return DatabaseDoc(cfg) }),
		jsonArtifact("config/network.json", SchemaNetwork, func() interface{} { return NetworkDoc(cfg) }),
		jsonArtifact("config/logging.json", SchemaLogging, func() interface{} { return LoggingDoc(cfg) }),
		{
			Path:   ComposeFilePath,
			Schema: SchemaCompose,
			Format: FormatYAML,
			Mode:   0o644,
			Render: func() ([]byte, error) {
				var buf bytes.Buffer
				enc := yaml.NewEncoder(&buf)
				enc.SetIndent(2)
				if err := enc.Encode(ComposeDoc(cfg)); err != nil {
					return nil, err
				}
				if err := enc.Close(); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			},
		},
	}

	if cfg.EnableAI {
		out = append(out, jsonArtifact("config/ai/models.json", SchemaModels, func() interface{} { return ModelsDoc(cfg) }))
	}
	for _, m := range cfg.Modules {
		name := m
		out = append(out, jsonArtifact("config/modules/"+name+".json", SchemaModule, func() interface{} { return ModuleDoc(cfg, name) }))
	}

	ext := ".sh"
	if info.OSType == engine.OSWindows {
		ext = ".bat"
	}
	for _, action := range []string{"start", "stop"} {
		act := action
		out = append(out, Artifact{
			Path:   "scripts/" + act + "-noxsuite" + ext,
			Format: FormatScript,
			Mode:   0o755,
			Render: func() ([]byte, error) { return renderScript(act, info.OSType), nil },
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func jsonArtifact(path, schema string, doc func() interface{}) Artifact {
	return Artifact{
		Path:   path,
		Schema: schema,
		Format: FormatJSON,
		Mode:   0o644,
		Render: func() ([]byte, error) {
			data, err := json.MarshalIndent(doc(), "", "  ")
			if err != nil {
				return nil, err
			}
			return append(data, '\n'), nil
		},
	}
}

// NoxSuiteDoc builds the main configuration document.
func NoxSuiteDoc(cfg engine.InstallConfig, info engine.SystemInfo) NoxSuiteDocument {
	return NoxSuiteDocument{
		Version: ProductVersion,
		Installation: InstallationSection{
			Directory:        cfg.InstallDirectory,
			Platform:         string(info.OSType),
			Mode:             string(cfg.Mode),
			InstalledModules: nonNil(cfg.Modules),
			Features: Features{
				AIEnabled:     cfg.EnableAI,
				VoiceEnabled:  cfg.EnableVoice,
				MobileEnabled: cfg.EnableMobile,
				DevMode:       cfg.DevMode,
				AutoStart:     cfg.AutoStart,
			},
			AIModels: nonNil(cfg.AIModels),
		},
		System: SystemSection{
			OSType:         string(info.OSType),
			Architecture:   info.Architecture,
			RuntimeVersion: info.RuntimeVersion,
			MemoryGB:       info.MemoryGB,
			CPUCores:       info.CPUCores,
		},
	}
}

// EnvVars returns the environment file entries.
func EnvVars(cfg engine.InstallConfig, info engine.SystemInfo) map[string]string {
	env := map[string]string{
		"NOXSUITE_VERSION":      ProductVersion,
		"NOXSUITE_PLATFORM":     string(info.OSType),
		"NOXSUITE_INSTALL_PATH": cfg.InstallDirectory,
		"NOXSUITE_MODE":         string(cfg.Mode),
		"NOXSUITE_AI_ENABLED":   fmt.Sprintf("%t", cfg.EnableAI),
		"NOXSUITE_DEV_MODE":     fmt.Sprintf("%t", cfg.DevMode),
		"POSTGRES_DB":           "noxsuite",
		"POSTGRES_USER":         "noxsuite",
	}
	if cfg.EnableAI {
		env["OLLAMA_HOST"] = "http://ollama:11434"
	}
	return env
}

// DatabaseDoc builds config/database.json.
func DatabaseDoc(cfg engine.InstallConfig) DatabaseDocument {
	return DatabaseDocument{
		Default: "postgres",
		Postgres: PostgresSection{
			Host:     "postgres",
			Port:     5432,
			Database: "noxsuite",
			User:     "noxsuite",
			DataDir:  filepath.Join(cfg.InstallDirectory, "data", "postgres"),
		},
		Redis: RedisSection{
			Host:    "redis",
			Port:    6379,
			DataDir: filepath.Join(cfg.InstallDirectory, "data", "redis"),
		},
	}
}

// NetworkDoc builds config/network.json.
func NetworkDoc(cfg engine.InstallConfig) NetworkDocument {
	ports := map[string]int{
		"web":        3000,
		"api":        8000,
		"monitoring": 3001,
	}
	if cfg.EnableAI {
		ports["ai_hub"] = 7860
		ports["ollama"] = 11434
	}
	return NetworkDocument{
		Host:   "localhost",
		Ports:  ports,
		Docker: DockerNetwork{Network: ComposeNetworkName},
	}
}

// LoggingDoc builds config/logging.json.
func LoggingDoc(cfg engine.InstallConfig) LoggingDocument {
	level := "INFO"
	if cfg.DevMode {
		level = "DEBUG"
	}
	return LoggingDocument{
		Version:  1,
		Level:    level,
		File:     filepath.Join(cfg.InstallDirectory, "data", "logs", "noxsuite.log"),
		Format:   "%(asctime)s - %(name)s - %(levelname)s - %(message)s",
		MaxBytes: 10 * 1024 * 1024,
		Backups:  5,
	}
}

// ModelsDoc builds config/ai/models.json.
func ModelsDoc(cfg engine.InstallConfig) ModelsDocument {
	models := make([]ModelEntry, 0, len(cfg.AIModels))
	for _, m := range cfg.AIModels {
		models = append(models, ModelEntry{Name: m, Enabled: true})
	}
	return ModelsDocument{
		Enabled:  cfg.EnableAI,
		Runtime:  "ollama",
		Endpoint: "http://localhost:11434",
		Models:   models,
	}
}

// ModuleDoc builds config/modules/<name>.json.
func ModuleDoc(cfg engine.InstallConfig, name string) ModuleDocument {
	return ModuleDocument{
		Name:    name,
		Enabled: true,
		Version: ProductVersion,
		Settings: map[string]interface{}{
			"dev_mode":   cfg.DevMode,
			"ai_enabled": cfg.EnableAI,
		},
	}
}

// ComposeDoc builds the docker compose file.
func ComposeDoc(cfg engine.InstallConfig) ComposeFile {
	restart := "no"
	if cfg.AutoStart {
		restart = "unless-stopped"
	}
	nets := []string{ComposeNetworkName}
	env := []string{"../config/.env"}

	services := map[string]ComposeService{
		"noxpanel": {
			Image:     "noxsuite/noxpanel:latest",
			Restart:   restart,
			Ports:     []string{"3000:3000"},
			EnvFile:   env,
			DependsOn: []string{"api"},
			Networks:  nets,
		},
		"api": {
			Image:     "noxsuite/api:latest",
			Restart:   restart,
			Ports:     []string{"8000:8000"},
			EnvFile:   env,
			DependsOn: []string{"postgres", "redis"},
			Networks:  nets,
		},
		"postgres": {
			Image:   "postgres:16-alpine",
			Restart: restart,
			Volumes: []string{"../data/postgres:/var/lib/postgresql/data"},
			Environment: map[string]string{
				"POSTGRES_DB":   "noxsuite",
				"POSTGRES_USER": "noxsuite",
			},
			Networks: nets,
		},
		"redis": {
			Image:    "redis:7-alpine",
			Restart:  restart,
			Volumes:  []string{"../data/redis:/data"},
			Networks: nets,
		},
		"monitoring": {
			Image:     "noxsuite/noxguard:latest",
			Restart:   restart,
			Ports:     []string{"3001:3001"},
			EnvFile:   env,
			DependsOn: []string{"api"},
			Networks:  nets,
		},
	}
	if cfg.EnableAI {
		services["ollama"] = ComposeService{
			Image:    "ollama/ollama:latest",
			Restart:  restart,
			Ports:    []string{"11434:11434"},
			Volumes:  []string{"../services/ollama:/root/.ollama"},
			Networks: nets,
		}
		services["langflow"] = ComposeService{
			Image:     "langflowai/langflow:latest",
			Restart:   restart,
			Ports:     []string{"7860:7860"},
			Volumes:   []string{"../services/langflow:/app/langflow"},
			DependsOn: []string{"ollama"},
			Networks:  nets,
		}
	}

	return ComposeFile{
		Name:     "noxsuite",
		Services: services,
		Networks: map[string]ComposeNetwork{ComposeNetworkName: {Driver: "bridge"}},
	}
}

func renderEnv(env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("# NoxSuite environment\n")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, env[k])
	}
	return buf.Bytes()
}

// ParseEnv reads KEY=VALUE lines. Blank lines and # comments are ignored.
func ParseEnv(data []byte) (map[string]string, error) {
	env := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", line)
		}
		env[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return env, sc.Err()
}

var scriptVerbs = map[string][2]string{
	"start": {"Starting", "up -d"},
	"stop":  {"Stopping", "down"},
}

func renderScript(action string, osType engine.OSType) []byte {
	const compose = "docker compose -f " + ComposeFilePath
	v := scriptVerbs[action]
	if osType == engine.OSWindows {
		return []byte(fmt.Sprintf("@echo off\r\ncd /d \"%%~dp0..\"\r\necho %s NoxSuite...\r\n%s %s\r\n", v[0], compose, v[1]))
	}
	return []byte(fmt.Sprintf("#!/bin/sh\nset -e\ncd \"$(dirname \"$0\")/..\"\necho \"%s NoxSuite...\"\n%s %s\n", v[0], compose, v[1]))
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Check reads an artifact from base and verifies it parses and satisfies
// its schema. A missing file yields an error matching fs.ErrNotExist.
func (sr *SchemaRegistry) Check(base string, a Artifact) error {
	path := filepath.Join(base, filepath.FromSlash(a.Path))
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch a.Format {
	case FormatJSON:
		return sr.ValidateJSON(a.Schema, data)
	case FormatYAML:
		return sr.ValidateYAML(a.Schema, data)
	case FormatEnv:
		env, err := ParseEnv(data)
		if err != nil {
			return engine.NewConfigurationError("invalid environment file "+a.Path, err)
		}
		return sr.ValidateValue(a.Schema, env)
	case FormatScript:
		text := strings.TrimSpace(string(data))
		if !strings.HasPrefix(text, "#!") && !strings.HasPrefix(strings.ToLower(text), "@echo off") {
			return engine.NewValidationError("script has no interpreter header: "+a.Path, nil).
				WithCode(engine.ErrCodeInvalidConfig)
		}
		return nil
	}
	return engine.NewConfigurationError(fmt.Sprintf("unknown artifact format %q", a.Format), nil)
}

// GenerateResult reports what Generate did.
type GenerateResult struct {
	// Written lists the artifact paths written, relative to base.
	Written []string `json:"written"`

	// Kept lists artifacts left alone because they already existed.
	Kept []string `json:"kept"`

	DryRun bool `json:"dry_run"`
}

// Generator renders artifacts, validates them and writes them atomically.
type Generator struct {
	schemas *SchemaRegistry
	session *telemetry.SessionLogger
}

// NewGenerator creates a Generator.
func NewGenerator(schemas *SchemaRegistry, session *telemetry.SessionLogger) *Generator {
	return &Generator{schemas: schemas, session: session}
}

// Generate writes arts below base. Existing files are kept unless overwrite
// is set. Every rendered document is validated before it is written; an
// invalid template is a configuration error and nothing further is written.
func (g *Generator) Generate(ctx context.Context, base string, arts []Artifact, overwrite, dryRun bool) (*GenerateResult, error) {
	res := &GenerateResult{Written: []string{}, Kept: []string{}, DryRun: dryRun}
	for _, a := range arts {
		if err := ctx.Err(); err != nil {
			return res, engine.NewUserAbort("configuration generation cancelled")
		}

		path := filepath.Join(base, filepath.FromSlash(a.Path))
		if dryRun {
			g.session.Info("would write "+path, map[string]interface{}{"path": path, "dry_run": true})
			res.Written = append(res.Written, a.Path)
			continue
		}

		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				res.Kept = append(res.Kept, a.Path)
				continue
			}
		}

		if err := g.WriteArtifact(base, a); err != nil {
			return res, err
		}
		res.Written = append(res.Written, a.Path)
	}
	return res, nil
}

// WriteArtifact renders, validates and writes a single artifact, replacing
// whatever is on disk.
func (g *Generator) WriteArtifact(base string, a Artifact) error {
	data, err := a.Render()
	if err != nil {
		return engine.NewConfigurationError("failed to render "+a.Path, err).WithOperation("render")
	}
	if err := g.validateRendered(a, data); err != nil {
		return err
	}

	path := filepath.Join(base, filepath.FromSlash(a.Path))
	if err := WriteFileAtomic(path, data, a.Mode); err != nil {
		return engine.NewScaffoldError("failed to write "+a.Path, err).
			WithOperation("write_artifact").
			WithDetail("path", path)
	}
	g.session.Debug("wrote "+a.Path, map[string]interface{}{"path": path, "bytes": len(data)})
	return nil
}

func (g *Generator) validateRendered(a Artifact, data []byte) error {
	switch a.Format {
	case FormatJSON:
		return g.schemas.ValidateJSON(a.Schema, data)
	case FormatYAML:
		return g.schemas.ValidateYAML(a.Schema, data)
	case FormatEnv:
		env, err := ParseEnv(data)
		if err != nil {
			return engine.NewConfigurationError("invalid environment template", err)
		}
		return g.schemas.ValidateValue(a.Schema, env)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
