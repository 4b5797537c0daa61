// Package wizard produces the install plan for each install mode.
//
// Guided mode asks the user through an engine.Decider. Fast, dry-run and
// safe mode use fixed defaults. Recovery mode starts from safe defaults and
// adjusts them according to the failure audit of the previous run.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/noxsuite/noxinstall/pkg/audit"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// maxAttempts bounds every re-prompt loop, so an unattended decider that
// keeps returning an invalid default cannot spin forever.
const maxAttempts = 5

// Presenter renders wizard screens. The ux package provides the terminal
// implementation.
type Presenter interface {
	Welcome(info engine.SystemInfo, analysis *audit.Analysis)
	Modules(modules []Module)
	Models(models []Model, recommended string)
	Preview(p *Preview)
	Notice(message string)
}

// NopPresenter renders nothing.
type NopPresenter struct{}

func (NopPresenter) Welcome(engine.SystemInfo, *audit.Analysis) {}
func (NopPresenter) Modules([]Module)                           {}
func (NopPresenter) Models([]Model, string)                     {}
func (NopPresenter) Preview(*Preview)                           {}
func (NopPresenter) Notice(string)                              {}

// Wizard builds an InstallConfig.
type Wizard struct {
	info      engine.SystemInfo
	tel       *telemetry.Telemetry
	decider   engine.Decider
	analysis  *audit.Analysis
	policies  *policy.Engine
	presenter Presenter
	freeSpace func(string) (float64, error)
	directory string
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithPolicies sets the engine that produces preview warnings.
func WithPolicies(e *policy.Engine) Option {
	return func(w *Wizard) {
		w.policies = e
	}
}

// WithPresenter sets the screen renderer.
func WithPresenter(p Presenter) Option {
	return func(w *Wizard) {
		if p != nil {
			w.presenter = p
		}
	}
}

// WithFreeSpace replaces the free space probe.
func WithFreeSpace(fn func(string) (float64, error)) Option {
	return func(w *Wizard) {
		w.freeSpace = fn
	}
}

// WithDirectory replaces the default install directory. Recovery keeps it
// even after permission failures.
func WithDirectory(dir string) Option {
	return func(w *Wizard) {
		w.directory = dir
	}
}

// New creates a Wizard. analysis may be nil when no audit was run.
func New(info engine.SystemInfo, tel *telemetry.Telemetry, decider engine.Decider, analysis *audit.Analysis, opts ...Option) *Wizard {
	if analysis == nil {
		analysis = audit.NewAnalysis()
	}
	w := &Wizard{
		info:      info,
		tel:       tel,
		decider:   decider,
		analysis:  analysis,
		presenter: NopPresenter{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run produces a validated plan for mode. A declined final confirmation
// returns a nil plan and a UserAbort error.
func (w *Wizard) Run(ctx context.Context, mode engine.InstallMode) (*engine.InstallConfig, error) {
	var (
		cfg       *engine.InstallConfig
		err       error
		previewed bool
	)

	switch mode {
	case engine.ModeFast:
		w.presenter.Notice("Fast mode: using recommended defaults")
		cfg = w.fastDefaults(engine.ModeFast)
	case engine.ModeDryRun:
		w.presenter.Notice("Dry run: the installation will be simulated without changes")
		cfg = w.fastDefaults(engine.ModeDryRun)
	case engine.ModeSafe:
		w.presenter.Notice("Safe mode: minimal configuration for stability")
		cfg = w.safeDefaults(engine.ModeSafe)
	case engine.ModeRecovery:
		cfg = w.recovery()
	default:
		cfg, err = w.guided(ctx)
		if err != nil {
			return nil, err
		}
		previewed = true
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !previewed {
		warnings, err := CheckPolicies(ctx, *cfg, w.info, w.policies)
		if err != nil {
			return nil, err
		}
		for _, warning := range warnings {
			w.tel.Session.Warning(warning, map[string]interface{}{"phase": "plan"})
		}
	}

	w.tel.Session.Info("Install plan ready", map[string]interface{}{
		"mode":       string(cfg.Mode),
		"directory":  cfg.InstallDirectory,
		"modules":    cfg.Modules,
		"enable_ai":  cfg.EnableAI,
		"ai_models":  cfg.AIModels,
		"auto_start": cfg.AutoStart,
	})
	return cfg, nil
}

func (w *Wizard) defaultDirectory() string {
	if w.directory != "" {
		return w.directory
	}
	return DefaultInstallDirectory(w.info)
}

func (w *Wizard) fastDefaults(mode engine.InstallMode) *engine.InstallConfig {
	return &engine.InstallConfig{
		InstallDirectory: w.defaultDirectory(),
		Modules:          RecommendedModules(),
		EnableAI:         true,
		EnableMobile:     true,
		AutoStart:        true,
		AIModels:         append([]string(nil), DefaultModels...),
		Mode:             mode,
	}
}

// safeDefaults never enables AI or auto-start, whatever the host offers.
func (w *Wizard) safeDefaults(mode engine.InstallMode) *engine.InstallConfig {
	return &engine.InstallConfig{
		InstallDirectory: w.defaultDirectory(),
		Modules:          append([]string(nil), MinimalModules...),
		AIModels:         []string{},
		Mode:             mode,
	}
}

func (w *Wizard) recovery() *engine.InstallConfig {
	if !w.analysis.HasFailures() {
		w.presenter.Notice("No previous failures detected, using fast mode defaults")
		return w.fastDefaults(engine.ModeRecovery)
	}

	w.presenter.Notice("Configuring from the previous failure analysis")
	for _, s := range w.analysis.RecoverySuggestions {
		w.presenter.Notice("  " + s)
	}

	cfg := w.safeDefaults(engine.ModeRecovery)
	var adjustments []string

	if w.analysis.Matched(audit.CategoryEncoding) {
		cfg.EncodingFallback = true
		adjustments = append(adjustments, "encoding_fallback")
		w.presenter.Notice("Enabled encoding fallbacks")
	}
	if w.analysis.Matched(audit.CategoryDependency) {
		cfg.PreferContainerized = true
		adjustments = append(adjustments, "containerized_dependencies")
		w.presenter.Notice("Will try containerized dependencies first")
	}
	if w.analysis.Matched(audit.CategoryPermission) && w.directory == "" {
		cfg.InstallDirectory = HomeInstallDirectory(w.info)
		adjustments = append(adjustments, "user_directory")
		w.presenter.Notice("Will install into the user directory")
	}

	w.tel.Session.Info("Recovery adjustments applied", map[string]interface{}{
		"adjustments":      adjustments,
		"last_failed_step": w.analysis.LastFailedStep(),
	})
	return cfg
}

func (w *Wizard) guided(ctx context.Context) (*engine.InstallConfig, error) {
	w.presenter.Welcome(w.info, w.analysis)

	dir, err := w.askDirectory(ctx)
	if err != nil {
		return nil, err
	}

	modules, err := w.askModules(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &engine.InstallConfig{
		InstallDirectory: dir,
		Modules:          modules,
		AIModels:         []string{},
		Mode:             engine.ModeGuided,
	}
	if err := w.askFeatures(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.EnableAI {
		if cfg.AIModels, err = w.askModels(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.ForceReinstall, err = w.decider.Confirm(ctx, "Force reinstall (remove existing installation)", false); err != nil {
		return nil, err
	}
	if !cfg.ForceReinstall {
		if cfg.BackupExisting, err = w.decider.Confirm(ctx, "Backup existing installation before updating", true); err != nil {
			return nil, err
		}
	}

	cfg.Normalize()
	preview, err := BuildPreview(ctx, *cfg, w.info, w.policies, w.freeSpace)
	if err != nil {
		return nil, err
	}
	w.presenter.Preview(preview)
	for _, warning := range preview.Warnings {
		w.tel.Session.Warning(warning, map[string]interface{}{"phase": "preview"})
	}

	question := "Proceed with installation to " + cfg.InstallDirectory + "?"
	if cfg.ForceReinstall {
		question = "Remove the existing installation and reinstall to " + cfg.InstallDirectory + "?"
	}
	ok, err := w.decider.Confirm(ctx, question, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.NewUserAbort("installation not confirmed").WithStep("configuration")
	}
	return cfg, nil
}

func (w *Wizard) askDirectory(ctx context.Context) (string, error) {
	def := w.defaultDirectory()
	var lastErr error
	for range maxAttempts {
		answer, err := w.decider.Ask(ctx, "Installation directory", def)
		if err != nil {
			return "", err
		}
		dir, err := filepath.Abs(expandHome(strings.TrimSpace(answer), w.info.HomeDir))
		if err != nil {
			lastErr = err
			continue
		}
		if lastErr = ValidateDirectory(dir, w.info, w.freeSpace); lastErr == nil {
			return dir, nil
		}
		w.presenter.Notice(message(lastErr))
	}
	return "", engine.NewValidationError("no usable install directory given", lastErr).WithStep("configuration")
}

func (w *Wizard) askModules(ctx context.Context) ([]string, error) {
	w.presenter.Modules(Modules)
	var lastErr error
	for range maxAttempts {
		answer, err := w.decider.Ask(ctx, "Select modules (recommended, all, minimal or numbers like 1,2,3)", PresetRecommended)
		if err != nil {
			return nil, err
		}
		modules, err := ParseModuleSelection(answer)
		if err == nil {
			return modules, nil
		}
		lastErr = err
		w.presenter.Notice("Invalid selection, please try again")
	}
	return nil, engine.NewConfigurationError("no valid module selection given", lastErr).WithStep("configuration")
}

func (w *Wizard) askFeatures(ctx context.Context, cfg *engine.InstallConfig) error {
	var err error
	suggestAI := w.info.MemoryGB >= policy.AIMemoryFloorGB
	hint := "recommended"
	if !suggestAI {
		hint = "not recommended, low memory"
	}

	if cfg.EnableAI, err = w.decider.Confirm(ctx, "Enable AI features (Ollama, LLMs) ["+hint+"]", suggestAI); err != nil {
		return err
	}
	if cfg.EnableAI {
		if cfg.EnableVoice, err = w.decider.Confirm(ctx, "Enable voice interface (experimental)", false); err != nil {
			return err
		}
	}
	if cfg.EnableMobile, err = w.decider.Confirm(ctx, "Enable mobile companion (NoxGo PWA)", true); err != nil {
		return err
	}
	if cfg.DevMode, err = w.decider.Confirm(ctx, "Enable development mode (hot reload, debug logging)", false); err != nil {
		return err
	}
	cfg.AutoStart, err = w.decider.Confirm(ctx, "Auto-start services after installation", true)
	return err
}

func (w *Wizard) askModels(ctx context.Context) ([]string, error) {
	recommended := RecommendedModelSelection(w.info.MemoryGB)
	w.presenter.Models(Models, recommended)

	var lastErr error
	for range maxAttempts {
		answer, err := w.decider.Ask(ctx, "Select models", recommended)
		if err != nil {
			return nil, err
		}
		models, err := ParseModelSelection(answer)
		if err != nil {
			lastErr = err
			w.presenter.Notice("Invalid selection, please try again")
			continue
		}

		footprint := ModelFootprintGB * float64(len(models))
		if footprint > w.info.MemoryGB*0.8 {
			w.tel.Session.Warning(fmt.Sprintf("Selected models may use ~%.0fGB RAM", footprint), map[string]interface{}{
				"models":      models,
				"estimate_gb": footprint,
				"memory_gb":   w.info.MemoryGB,
			})
			ok, err := w.decider.Confirm(ctx, "Continue anyway?", false)
			if err != nil {
				return nil, err
			}
			if !ok {
				lastErr = errors.New("model selection exceeds available memory")
				continue
			}
		}
		return models, nil
	}
	return nil, engine.NewConfigurationError("no AI model selection confirmed", lastErr).WithStep("configuration")
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// message returns the user-facing text of err.
func message(err error) string {
	var ie *engine.InstallError
	if errors.As(err, &ie) {
		return ie.Message
	}
	return err.Error()
}
