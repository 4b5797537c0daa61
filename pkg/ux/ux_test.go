package ux

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/audit"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/pipeline"
	"github.com/noxsuite/noxinstall/pkg/validate"
	"github.com/noxsuite/noxinstall/pkg/wizard"
)

func sampleConfig(ai bool) *engine.InstallConfig {
	return &engine.InstallConfig{
		InstallDirectory: "/opt/noxsuite",
		Modules:          []string{"noxguard", "noxpanel"},
		EnableAI:         ai,
		AIModels:         []string{"mistral:7b-instruct"},
		Mode:             engine.ModeFast,
	}
}

func TestServices(t *testing.T) {
	without := Services(*sampleConfig(false))
	with := Services(*sampleConfig(true))

	assert.Len(t, without, 3)
	assert.Len(t, with, 4)
	assert.Equal(t, "http://localhost:3000", without[0].URL)
	assert.Equal(t, "http://localhost:8000/api/docs", without[1].URL)
	assert.Equal(t, "http://localhost:3001", without[2].URL)
	assert.Equal(t, "http://localhost:7860", with[3].URL)
}

func TestTerminal_Completion(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	term.Completion(&pipeline.Report{
		Config:      sampleConfig(true),
		Warnings:    []string{"ollama is not installed"},
		LogFile:     "noxsuite_installer.log",
		SummaryPath: "/opt/noxsuite/INSTALLATION_SUMMARY.json",
	})

	out := buf.String()
	assert.Contains(t, out, "[OK] NoxSuite installed")
	assert.Contains(t, out, "/opt/noxsuite")
	assert.Contains(t, out, "http://localhost:7860")
	assert.Contains(t, out, "[!] ollama is not installed")
	assert.Contains(t, out, "start-noxsuite")
	assert.Contains(t, out, "noxsuite_installer.log")
	assert.Contains(t, out, "INSTALLATION_SUMMARY.json")
}

func TestTerminal_CompletionWithWarnings(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf, true).Completion(&pipeline.Report{
		Config: sampleConfig(false),
		Validation: &validate.ValidationResult{
			Total:    4,
			Passed:   3,
			Failures: []validate.Failure{{Check: "service", Kind: validate.KindServiceUnavailable, Message: "compose not running"}},
		},
	})
	assert.Contains(t, buf.String(), "installed with warnings")
	assert.NotContains(t, buf.String(), "7860")
}

func TestTerminal_CompletionDryRun(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf, false).Completion(&pipeline.Report{DryRun: true, Config: sampleConfig(false)})
	assert.Contains(t, buf.String(), "Dry run complete")
	assert.NotContains(t, buf.String(), "localhost")
}

func TestTerminal_WelcomeShowsPreviousFailures(t *testing.T) {
	analysis := audit.NewAnalysis()
	analysis.LogFound = true
	analysis.FailedSteps = []audit.FailedStep{{Step: "installing_dependencies", Error: "winget not found"}}
	analysis.Recommendations = []string{"Use containerized dependencies"}

	var buf bytes.Buffer
	NewTerminal(&buf, true).Welcome(engine.SystemInfo{
		OSType:          engine.OSLinux,
		Architecture:    "amd64",
		MemoryGB:        8,
		CPUCores:        4,
		Tools:           map[string]bool{"docker": true},
		PackageManagers: []string{"apt-get"},
	}, analysis)

	out := buf.String()
	assert.Contains(t, out, "NoxSuite Installer")
	assert.Contains(t, out, "apt-get")
	assert.Contains(t, out, "docker")
	assert.Contains(t, out, "1 failed steps")
	assert.Contains(t, out, "- Use containerized dependencies")
}

func TestTerminal_ModulesAndPreview(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	term.Modules(wizard.Modules)
	term.Preview(&wizard.Preview{
		Config:           *sampleConfig(true),
		EstimatedSizeGB:  12.5,
		EstimatedMinutes: 25,
		Warnings:         []string{"low memory for the selected models"},
	})

	out := buf.String()
	for _, m := range wizard.Modules {
		assert.Contains(t, out, m.Name)
	}
	assert.Contains(t, out, "* noxpanel")
	assert.Contains(t, out, "12.5 GB")
	assert.Contains(t, out, "25 minutes")
	assert.Contains(t, out, "mistral:7b-instruct")
	assert.Contains(t, out, "[!] low memory for the selected models")
}

func TestTerminal_Failure(t *testing.T) {
	var buf bytes.Buffer
	err := engine.NewDependencyError("docker could not be installed", errors.New("exit status 100")).
		WithStep("installing_dependencies")
	NewTerminal(&buf, true).Failure(err, "noxsuite_installer.log")

	out := buf.String()
	assert.Contains(t, out, "[X] Installation failed")
	assert.Contains(t, out, "installing_dependencies")
	assert.Contains(t, out, "exit status 100")
	assert.Contains(t, out, "noxinstall recovery")
	assert.Contains(t, out, "noxsuite_installer.log")
}

func TestTerminal_FailureUserAbort(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf, true).Failure(engine.NewUserAbort("installation cancelled by user"), "")
	assert.Contains(t, buf.String(), "Installation cancelled")
	assert.Empty(t, Hints(engine.NewUserAbort("x")))
}

func TestHints(t *testing.T) {
	assert.NotEmpty(t, Hints(engine.NewValidationError("old runtime", nil)))
	assert.NotEmpty(t, Hints(engine.NewScaffoldError("denied", nil)))
	assert.Contains(t, Hints(engine.NewConfigurationError("bad", nil))[0], "heal")
	assert.NotEmpty(t, Hints(errors.New("plain")))
}

func TestTerminal_Validation(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf, true).Validation(
		&validate.ValidationResult{
			Total:  5,
			Passed: 3,
			Failures: []validate.Failure{
				{Check: "directory", Kind: validate.KindMissingDirectory, Path: "data/logs", Message: "directory missing"},
				{Check: "service", Kind: validate.KindServiceUnavailable, Message: "docker compose unavailable"},
			},
		},
		&validate.HealingResult{
			Healed:        []validate.Failure{{Check: "directory", Path: "data/logs"}},
			Unrecoverable: []validate.Failure{{Check: "service"}},
		},
	)
	out := buf.String()
	assert.Contains(t, out, "3 of 5 checks passed")
	assert.Contains(t, out, "healed data/logs")
	assert.Contains(t, out, "cannot heal service")
}

func TestLineDecider(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	d := NewLineDecider(strings.NewReader("maybe\nyes\n\nn\n/srv/nox\n"), &out)

	ok, err := d.Confirm(ctx, "Install docker?", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Please answer yes or no.")

	ok, err = d.Confirm(ctx, "Start services?", true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Confirm(ctx, "Enable AI?", true)
	require.NoError(t, err)
	assert.False(t, ok)

	dir, err := d.Ask(ctx, "Installation directory", "/opt/noxsuite")
	require.NoError(t, err)
	assert.Equal(t, "/srv/nox", dir)

	// Input exhausted: defaults apply.
	dir, err = d.Ask(ctx, "Installation directory", "/opt/noxsuite")
	require.NoError(t, err)
	assert.Equal(t, "/opt/noxsuite", dir)
	ok, err = d.Confirm(ctx, "Continue?", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLineDecider_Cancelled(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLineDecider(r, &bytes.Buffer{}).Confirm(ctx, "Continue?", true)
	require.Error(t, err)
	assert.True(t, engine.IsUserAbort(err))
}

func TestSelectDecider(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, engine.FixedDecider{AssumeYes: true}, SelectDecider(f, &bytes.Buffer{}, false, true))
	assert.Equal(t, engine.FixedDecider{}, SelectDecider(f, &bytes.Buffer{}, true, false))
	assert.IsType(t, &LineDecider{}, SelectDecider(f, &bytes.Buffer{}, false, false))
}
