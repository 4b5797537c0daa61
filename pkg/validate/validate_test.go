package validate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/runner/runnertest"
	"github.com/noxsuite/noxinstall/pkg/scaffold"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

func plan(dir string) engine.InstallConfig {
	return engine.InstallConfig{
		InstallDirectory: dir,
		Modules:          []string{"noxguard", "noxpanel"},
		EnableAI:         true,
		AIModels:         []string{"tinyllama"},
		Mode:             engine.ModeFast,
	}
}

func host() engine.SystemInfo {
	return engine.SystemInfo{
		OSType:         engine.OSLinux,
		Architecture:   "arm64",
		RuntimeVersion: "go1.25.2",
		MemoryGB:       8,
		CPUCores:       4,
	}
}

// install creates a complete installation of cfg below its directory.
func install(t *testing.T, cfg engine.InstallConfig) *config.SchemaRegistry {
	t.Helper()
	tel := telemetry.NewNop()
	_, err := scaffold.New(tel.Session).CreateStructure(context.Background(), cfg.InstallDirectory, scaffold.Layout(cfg), false)
	require.NoError(t, err)

	schemas := config.NewSchemaRegistry()
	_, err = config.NewGenerator(schemas, tel.Session).
		Generate(context.Background(), cfg.InstallDirectory, config.Artifacts(cfg, host()), true, false)
	require.NoError(t, err)
	return schemas
}

func kinds(failures []Failure) map[FailureKind]int {
	out := make(map[FailureKind]int)
	for _, f := range failures {
		out[f.Kind]++
	}
	return out
}

func TestValidate_CompleteInstallation(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)
	run := runnertest.NewFake("docker")

	v := New(cfg, host(), schemas, run, telemetry.NewNop())
	res, err := v.Validate(context.Background())
	require.NoError(t, err)

	assert.True(t, res.OK(), "failures: %+v", res.Failures)
	assert.Equal(t, res.Total, res.Passed)
	assert.Greater(t, res.Total, 20)
	assert.True(t, run.Ran("docker compose -f"))
}

func TestValidate_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := plan(dir)

	v := New(cfg, host(), config.NewSchemaRegistry(), runnertest.NewFake(), telemetry.NewNop())
	res, err := v.Validate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Passed)
	k := kinds(res.Failures)
	assert.Equal(t, len(scaffold.RequiredDirs(dir, cfg)), k[KindMissingDirectory])
	assert.Equal(t, len(config.Artifacts(cfg, host())), k[KindMissingConfig])
	assert.Equal(t, 1, k[KindServiceUnavailable])
}

func TestAttemptAutoHealing_MissingAndCorrupted(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)
	base := cfg.InstallDirectory

	require.NoError(t, os.Remove(filepath.Join(base, "config", "network.json")))
	require.NoError(t, os.WriteFile(filepath.Join(base, "config", "database.json"), []byte(`{"incomplete":"config"}`), 0o644))
	require.NoError(t, os.RemoveAll(filepath.Join(base, "data", "logs")))

	tel, rec := recording()
	v := New(cfg, host(), schemas, runnertest.NewFake("docker"), tel)

	res, err := v.Validate(context.Background())
	require.NoError(t, err)
	k := kinds(res.Failures)
	assert.Equal(t, 1, k[KindMissingConfig])
	assert.Equal(t, 1, k[KindInvalidConfig])
	assert.Equal(t, 1, k[KindMissingDirectory])

	healing, err := v.AttemptAutoHealing(context.Background(), res.Failures)
	require.NoError(t, err)
	assert.Equal(t, 3, healing.HealedCount())
	assert.Empty(t, healing.Unrecoverable)

	_, err = os.Stat(filepath.Join(base, "config", "database.json.corrupt"))
	assert.NoError(t, err, "corrupted file should be kept aside")

	again, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, again.OK(), "failures after healing: %+v", again.Failures)
	assert.NotEmpty(t, rec.Events(telemetry.EventWarning))
}

func TestAttemptAutoHealing_PassesThroughUnknownKinds(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)

	v := New(cfg, host(), schemas, runnertest.NewFake(), telemetry.NewNop())
	failures := []Failure{
		{Check: "service:docker-compose", Kind: KindServiceUnavailable, Message: "container runtime not found"},
		{Check: "config:unknown.json", Kind: KindMissingConfig, Path: filepath.Join(cfg.InstallDirectory, "unknown.json")},
	}
	healing, err := v.AttemptAutoHealing(context.Background(), failures)
	require.NoError(t, err)
	assert.Zero(t, healing.HealedCount())
	assert.Equal(t, failures, healing.Unrecoverable)
}

func TestAttemptAutoHealing_MkdirFailure(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	v := New(cfg, host(), config.NewSchemaRegistry(), runnertest.NewFake(), telemetry.NewNop(),
		WithMkdirAll(func(string, fs.FileMode) error { return errors.New("read-only file system") }))

	f := Failure{Check: "directory:plugins", Kind: KindMissingDirectory, Path: filepath.Join(cfg.InstallDirectory, "plugins")}
	healing, err := v.AttemptAutoHealing(context.Background(), []Failure{f})
	require.NoError(t, err)
	assert.Equal(t, []Failure{f}, healing.Unrecoverable)
}

func TestValidate_ComposeRejected(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)
	run := runnertest.NewFake("docker")
	run.OnFail("docker compose", 1)

	v := New(cfg, host(), schemas, run, telemetry.NewNop())
	res, err := v.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindServiceUnavailable, res.Failures[0].Kind)
}

func TestHeal(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)
	require.NoError(t, os.Remove(filepath.Join(cfg.InstallDirectory, "config", ".env")))

	v := New(cfg, host(), schemas, runnertest.NewFake(), telemetry.NewNop(), WithServiceCheck(false))
	res, healing, err := v.Heal(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, healing.HealedCount())
}

func TestValidate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := New(plan(t.TempDir()), host(), config.NewSchemaRegistry(), runnertest.NewFake(), telemetry.NewNop())
	_, err := v.Validate(ctx)
	assert.True(t, engine.IsUserAbort(err))
}

func recording() (*telemetry.Telemetry, *telemetry.Recorder) {
	tel := telemetry.NewNop()
	rec := &telemetry.Recorder{}
	tel.Events.Subscribe(rec.Record, nil)
	return tel, rec
}

func TestValidate_PolicyFindings(t *testing.T) {
	cfg := plan(filepath.Join(t.TempDir(), "nox"))
	schemas := install(t, cfg)

	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	v := New(cfg, host(), schemas, runnertest.NewFake("docker"), telemetry.NewNop(), WithPolicies(eng))
	res, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK(), "built-in warnings never fail a pass: %+v", res.Failures)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-ai.rego"), []byte(`package custom.noai

import rego.v1

deny contains violation if {
	input.plan.enable_ai
	violation := {"message": "AI features are not allowed on this host", "severity": "error"}
}`), 0o644))
	require.NoError(t, eng.LoadPolicies(context.Background(), []string{dir}))

	res, err = v.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, KindPolicyViolation, f.Kind)
	assert.Equal(t, "policy:no-ai", f.Check)
	assert.Equal(t, "AI features are not allowed on this host", f.Message)
	assert.Equal(t, res.Total-1, res.Passed)

	healing, err := v.AttemptAutoHealing(context.Background(), res.Failures)
	require.NoError(t, err)
	assert.Empty(t, healing.Healed)
	assert.Equal(t, res.Failures, healing.Unrecoverable)
}
