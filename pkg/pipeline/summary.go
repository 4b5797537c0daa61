package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/deps"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/scaffold"
	"github.com/noxsuite/noxinstall/pkg/validate"
)

// SummaryFile is written into the install directory at finalize.
const SummaryFile = "INSTALLATION_SUMMARY.json"

// BackupDir holds per-session copies of replaced configuration.
const BackupDir = "backups"

// Installation statuses recorded in the summary.
const (
	StatusCompleted             = "completed"
	StatusCompletedWithWarnings = "completed_with_warnings"
)

// InstallationMarkers are the files whose presence identifies an existing
// NoxSuite installation, relative to the install directory.
var InstallationMarkers = []string{
	"noxsuite.json",
	"config/noxsuite.json",
	SummaryFile,
	config.ComposeFilePath,
}

// knownEntries are top-level names an installation creates.
var knownEntries = map[string]bool{
	"frontend": true, "backend": true, "services": true, "data": true,
	"config": true, "scripts": true, "docker": true, "plugins": true,
	"src": true, BackupDir: true, "noxsuite.json": true, SummaryFile: true,
}

// Report describes one pipeline run.
type Report struct {
	SessionID string                `json:"session_id"`
	RunID     string                `json:"run_id,omitempty"`
	Mode      engine.InstallMode    `json:"mode"`
	Config    *engine.InstallConfig `json:"config,omitempty"`
	Steps     []*engine.InstallStep `json:"steps"`

	Dependencies *deps.Report               `json:"dependencies,omitempty"`
	Scaffold     *scaffold.Result           `json:"scaffold,omitempty"`
	Generated    *config.GenerateResult     `json:"generated,omitempty"`
	Validation   *validate.ValidationResult `json:"validation,omitempty"`
	Healing      *validate.HealingResult    `json:"healing,omitempty"`

	Warnings         []string `json:"warnings"`
	RollbackFailures []string `json:"rollback_failures,omitempty"`
	BackupDir        string   `json:"backup_dir,omitempty"`
	SummaryPath      string   `json:"summary_path,omitempty"`
	LogFile          string   `json:"log_file,omitempty"`

	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

// Status returns the installation status for the summary.
func (r *Report) Status() string {
	if r.Validation != nil && !r.Validation.OK() {
		return StatusCompletedWithWarnings
	}
	return StatusCompleted
}

// Step returns the named step, or nil if the run never reached it.
func (r *Report) Step(name string) *engine.InstallStep {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Summary is the machine-readable record of a finished installation. It is
// read back by the validate, heal and monitor commands.
type Summary struct {
	InstallationStatus    string               `json:"installation_status"`
	InstallationTime      time.Time            `json:"installation_time"`
	InstallationDirectory string               `json:"installation_directory"`
	Version               string               `json:"version"`
	SessionID             string               `json:"session_id"`
	Configuration         engine.InstallConfig `json:"configuration"`
	SystemInfo            engine.SystemInfo    `json:"system_info"`
	DurationSeconds       float64              `json:"duration_seconds"`
	Warnings              []string             `json:"warnings"`
}

// NewSummary builds the summary of a successful report.
func NewSummary(r *Report, info engine.SystemInfo, at time.Time) Summary {
	s := Summary{
		InstallationStatus: r.Status(),
		InstallationTime:   at.UTC(),
		Version:            config.ProductVersion,
		SessionID:          r.SessionID,
		SystemInfo:         info,
		DurationSeconds:    r.Duration.Seconds(),
		Warnings:           r.Warnings,
	}
	if r.Config != nil {
		s.Configuration = *r.Config
		s.InstallationDirectory = r.Config.InstallDirectory
	}
	if s.Warnings == nil {
		s.Warnings = []string{}
	}
	return s
}

// WriteSummary writes s to path atomically.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return config.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// LoadSummary reads the summary of the installation in dir.
func LoadSummary(dir string) (*Summary, error) {
	path := filepath.Join(dir, SummaryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewConfigurationError("no installation summary in "+dir, err).
				WithDetail("path", path)
		}
		return nil, engine.NewConfigurationError("failed to read installation summary", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, engine.NewConfigurationError("installation summary is corrupted", err).
			WithDetail("path", path)
	}
	if s.Configuration.InstallDirectory == "" {
		s.Configuration.InstallDirectory = dir
	}
	return &s, nil
}

// ScanExisting reports which installation markers exist in dir and how many
// top-level entries do not belong to a NoxSuite installation. A missing dir
// is not an error.
func ScanExisting(dir string) (markers []string, foreign int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	for _, m := range InstallationMarkers {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(m))); err == nil {
			markers = append(markers, m)
		}
	}
	for _, e := range entries {
		name := e.Name()
		if knownEntries[name] || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".prom") {
			continue
		}
		foreign++
	}
	return markers, foreign, nil
}

// copyTree copies the regular files below src into dst and returns how many
// were copied. A missing src copies nothing.
func copyTree(src, dst string) (int, error) {
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, scaffold.DirPerm)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
