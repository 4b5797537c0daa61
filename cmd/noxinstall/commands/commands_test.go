package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/stores"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommandWithIO(os.Stdin, &out, "test", "none", "today")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitCancelled, ExitCode(engine.NewUserAbort("declined")))
	assert.Equal(t, ExitCancelled, ExitCode(fmt.Errorf("phase: %w", context.Canceled)))
	assert.Equal(t, ExitFailure, ExitCode(engine.NewDependencyError("docker missing", nil)))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		arg   string
		mode  engine.InstallMode
		known bool
	}{
		{"", engine.ModeGuided, true},
		{"fast", engine.ModeFast, true},
		{"dry-run", engine.ModeDryRun, true},
		{"SAFE", engine.ModeSafe, true},
		{"recovery", engine.ModeRecovery, true},
		{"turbo", engine.ModeGuided, false},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			mode, known := parseMode(tt.arg)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestLoadSettings_FlagOverrides(t *testing.T) {
	opts := &globalOptions{
		logFile:        "custom.log",
		historyDB:      historyOff,
		traceExporter:  "stdout",
		nonInteractive: true,
		assumeYes:      true,
	}
	s, err := loadSettings(opts)
	require.NoError(t, err)

	assert.Equal(t, "custom.log", s.LogFile)
	assert.Empty(t, s.HistoryDB)
	assert.Equal(t, "stdout", s.Tracing.Exporter)
	assert.True(t, s.NonInteractive)
	assert.True(t, s.AssumeYes)
}

func TestLoadSettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nhistory_db: runs.db\nmonitor:\n  interval: 1m\n"), 0o644))

	s, err := loadSettings(&globalOptions{configPath: path, historyDB: "override.db"})
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "override.db", s.HistoryDB)
	assert.Equal(t, time.Minute, s.Monitor.Interval)
}

func TestLoadSettings_InvalidExporter(t *testing.T) {
	_, err := loadSettings(&globalOptions{traceExporter: "zipkin"})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestTelemetryConfig(t *testing.T) {
	s, err := loadSettings(&globalOptions{logFile: "session.log"})
	require.NoError(t, err)
	s.Monitor.MetricsAddr = "127.0.0.1:9500"

	cfg := telemetryConfig(s, "1.2.3", true)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "session.log", cfg.Logging.File)
	assert.True(t, cfg.Logging.ASCIISymbols)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "127.0.0.1:9500", cfg.Metrics.ListenAddress)
	assert.Equal(t, s.MetricsTextfile, cfg.Metrics.TextfileName)
}

func failedSessionLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "installer.log")
	l, err := telemetry.NewSessionLogger(telemetry.LoggingConfig{File: path}, &bytes.Buffer{}, nil)
	require.NoError(t, err)
	l.StepStart("installing_dependencies", "Resolving external dependencies")
	l.StepError("installing_dependencies",
		engine.NewDependencyError("docker unavailable", errors.New(`exec: "docker": executable file not found in $PATH`)), nil)
	require.NoError(t, l.Close())
	return path
}

func TestAuditCommand_JSON(t *testing.T) {
	logPath := failedSessionLog(t)

	out, err := execute(t, "audit", logPath, "--json")
	require.NoError(t, err)

	var analysis struct {
		LogFound    bool `json:"log_found"`
		FailedSteps []struct {
			Step string `json:"step"`
		} `json:"failed_steps"`
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	assert.True(t, analysis.LogFound)
	require.Len(t, analysis.FailedSteps, 1)
	assert.Equal(t, "installing_dependencies", analysis.FailedSteps[0].Step)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestAuditCommand_Text(t *testing.T) {
	out, err := execute(t, "audit", failedSessionLog(t), "--ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "installing_dependencies")
	assert.Contains(t, out, "dependency_error")

	out, err = execute(t, "audit", filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, err)
	assert.Contains(t, out, "No installation log found")
}

func TestHistoryCommand(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := stores.Open(ctx, dbPath)
	require.NoError(t, err)
	run := &stores.Run{
		ID:               "run-1",
		SessionID:        "a1b2c3d4",
		Mode:             string(engine.ModeFast),
		Status:           stores.RunStatusRunning,
		InstallDirectory: "/opt/noxsuite",
		StartedAt:        time.Now().UTC().Add(-2 * time.Minute),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	msg, kind := "docker unavailable", string(engine.KindDependency)
	require.NoError(t, store.FinishRun(ctx, run.ID, stores.RunStatusFailed, &msg, &kind))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--history-db", dbPath, "--ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "a1b2c3d4")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "dependency_error: docker unavailable")

	out, err = execute(t, "history", "--history-db", dbPath, "--json")
	require.NoError(t, err)
	var runs []stores.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, stores.RunStatusFailed, runs[0].Status)
}

func TestHistoryCommand_Disabled(t *testing.T) {
	_, err := execute(t, "history", "--history-db", historyOff)
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestHistoryRows(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := start.Add(95 * time.Second)
	rows := historyRows([]*stores.Run{
		{SessionID: "s1", Mode: "fast", Status: stores.RunStatusCompleted, StartedAt: start, CompletedAt: &done},
		{SessionID: "s2", Mode: "guided", Status: stores.RunStatusRunning, StartedAt: start},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "1m35s", rows[0][4])
	assert.Equal(t, "-", rows[1][4])
	assert.Empty(t, rows[1][6])
}

func TestRootCommand_TooManyArgs(t *testing.T) {
	_, err := execute(t, "fast", "safe")
	require.Error(t, err)
}

func TestWatchPolicies_ReloadTriggersRecheck(t *testing.T) {
	dir := t.TempDir()
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	tel := telemetry.NewNop()
	rec := &telemetry.Recorder{}
	tel.Events.Subscribe(rec.Record, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rechecks := make(chan struct{}, 4)
	require.NoError(t, watchPolicies(ctx, eng, dir, tel, func() { rechecks <- struct{}{} }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "min-cores.rego"), []byte(`package site.cores

import rego.v1

deny contains "at least 4 CPU cores recommended" if {
	input.system.cpu_cores < 4
}`), 0o644))

	select {
	case <-rechecks:
	case <-time.After(5 * time.Second):
		t.Fatal("policy change did not trigger a recheck")
	}
	assert.Contains(t, eng.Names(), "min-cores")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package broken\n\ndeny contains if {"), 0o644))
	require.Eventually(t, func() bool {
		for _, e := range rec.Events(telemetry.EventWarning) {
			if strings.HasPrefix(e.Message, "Policy reload failed") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, eng.Names(), "min-cores", "a failed reload keeps the active policies")
}

func TestHistory_SkippedForDryRun(t *testing.T) {
	dir := t.TempDir()
	settings, err := loadSettings(&globalOptions{historyDB: filepath.Join(dir, "dry.db")})
	require.NoError(t, err)
	env := &environment{settings: settings, tel: telemetry.NewNop()}

	assert.Nil(t, env.history(context.Background(), engine.ModeDryRun))
	assert.NoFileExists(t, filepath.Join(dir, "dry.db"))

	env.settings.HistoryDB = filepath.Join(dir, "fast.db")
	store := env.history(context.Background(), engine.ModeFast)
	require.NotNil(t, store)
	defer store.Close()
	assert.FileExists(t, filepath.Join(dir, "fast.db"))
}
