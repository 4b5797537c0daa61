package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/deps"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/probe"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/scaffold"
	"github.com/noxsuite/noxinstall/pkg/validate"
	"github.com/noxsuite/noxinstall/pkg/wizard"
)

// MinRuntimeVersion is the oldest runtime the installer supports.
const MinRuntimeVersion = "1.22"

func (p *Pipeline) dryRun() bool {
	return p.cfg != nil && p.cfg.Mode.IsDryRun()
}

func (p *Pipeline) warn(msg string, fields map[string]interface{}) {
	p.report.Warnings = append(p.report.Warnings, msg)
	p.tel.Session.Warning(msg, fields)
}

func (p *Pipeline) configure(ctx context.Context, mode engine.InstallMode) (map[string]interface{}, error) {
	w := wizard.New(p.info, p.tel, p.decider, p.analysis,
		wizard.WithPolicies(p.policies),
		wizard.WithPresenter(p.presenter),
		wizard.WithFreeSpace(p.freeSpace),
		wizard.WithDirectory(p.directory),
	)
	cfg, err := w.Run(ctx, mode)
	if err != nil {
		return nil, err
	}
	if p.settings.PreferContainerized {
		cfg.PreferContainerized = true
	}
	if cfg.EncodingFallback {
		p.tel.Session.SetASCII(true)
	}

	p.cfg = cfg
	p.report.Config = cfg
	if p.history != nil {
		if err := p.history.RecordPlan(ctx, *cfg); err != nil {
			p.tel.Session.Warning("Failed to record install plan", map[string]interface{}{"error": err.Error()})
		}
	}

	return map[string]interface{}{
		"mode":      string(cfg.Mode),
		"directory": cfg.InstallDirectory,
		"modules":   len(cfg.Modules),
		"enable_ai": cfg.EnableAI,
	}, nil
}

// preChecks runs the critical checks, which abort the run, and the advisory
// checks, which only warn.
func (p *Pipeline) preChecks(ctx context.Context) (map[string]interface{}, error) {
	dir := p.cfg.InstallDirectory

	// Critical: runtime floor and known OS.
	if v := strings.TrimPrefix(p.info.RuntimeVersion, "go"); deps.CompareVersions(v, MinRuntimeVersion) < 0 {
		return nil, engine.NewValidationError(fmt.Sprintf("Runtime %s is too old (need %s or newer)", p.info.RuntimeVersion, MinRuntimeVersion), nil).
			WithCode(engine.ErrCodeVersionTooOld)
	}
	if !p.info.OSType.IsSupported() {
		return nil, engine.NewValidationError("Unsupported operating system", nil).
			WithCode(engine.ErrCodeUnsupportedOS).
			WithDetail("os", string(p.info.OSType))
	}

	// Critical: write permission and disk space at the nearest existing level.
	target := dir
	if fi, err := os.Stat(dir); err != nil {
		target = filepath.Dir(dir)
		if pfi, perr := os.Stat(target); perr != nil || !pfi.IsDir() {
			return nil, engine.NewValidationError("Parent directory doesn't exist: "+target, perr).
				WithDetail("directory", dir)
		}
	} else if !fi.IsDir() {
		return nil, engine.NewValidationError("Install path exists and is not a directory: "+dir, nil)
	}
	if !probe.CanWrite(target, fmt.Sprintf(".noxsuite_precheck_%d", time.Now().UnixNano())) {
		return nil, engine.NewValidationError("No write permission in "+target, nil).
			WithCode(engine.ErrCodePermissionDenied)
	}
	free, err := p.freeSpace(target)
	switch {
	case err != nil:
		p.warn("Could not determine free disk space", map[string]interface{}{"path": target, "error": err.Error()})
	case free < wizard.MinFreeSpaceGB:
		return nil, engine.NewValidationError(fmt.Sprintf("Insufficient disk space: %.1fGB free (need %.0fGB)", free, wizard.MinFreeSpaceGB), nil).
			WithCode(engine.ErrCodeDiskSpace).
			WithDetail("free_gb", free)
	case free < wizard.EstimateSizeGB(*p.cfg) && p.cfg.Mode != engine.ModeGuided:
		// Guided plans already carry this warning in their preview.
		p.warn(fmt.Sprintf("Only %.1fGB free for an estimated ~%vGB installation", free, wizard.EstimateSizeGB(*p.cfg)),
			map[string]interface{}{"path": target, "free_gb": free})
	}

	// Advisory: network reachability and existing directory contents.
	unreachable := p.checkNetwork(ctx)
	if len(unreachable) > 0 {
		p.warn("Network check failed; downloads may not work", map[string]interface{}{"unreachable": unreachable})
	}

	markers, foreign, err := ScanExisting(dir)
	if err != nil {
		p.warn("Could not inspect install directory", map[string]interface{}{"error": err.Error()})
	}
	p.existing = len(markers) > 0
	switch {
	case p.existing && p.cfg.ForceReinstall:
		p.tel.Session.Info("Existing installation found; it will be reinstalled", map[string]interface{}{"markers": markers})
	case p.existing:
		p.tel.Session.Info("Existing installation found; existing configuration files are kept", map[string]interface{}{"markers": markers})
	case foreign > 0:
		p.warn(fmt.Sprintf("Install directory contains %d entries not created by NoxSuite", foreign), map[string]interface{}{"directory": dir})
	}

	return map[string]interface{}{
		"free_gb":               free,
		"network_ok":            len(unreachable) == 0,
		"existing_installation": p.existing,
	}, nil
}

func (p *Pipeline) checkNetwork(ctx context.Context) []string {
	var unreachable []string
	for _, addr := range p.settings.Network.CheckHosts {
		dctx, cancel := context.WithTimeout(ctx, p.settings.Network.Timeout)
		conn, err := p.dial(dctx, "tcp", addr)
		cancel()
		if err != nil {
			unreachable = append(unreachable, addr)
			continue
		}
		_ = conn.Close()
	}
	return unreachable
}

func (p *Pipeline) dependencies(ctx context.Context) (map[string]interface{}, error) {
	opts := []deps.Option{
		deps.WithDryRun(p.dryRun()),
		deps.WithPreferContainerized(p.cfg.PreferContainerized),
		deps.WithMaxRetries(p.settings.Retry.MaxRetries),
		deps.WithGraceDelay(p.settings.Retry.GraceDelay),
		deps.WithInstallTimeout(p.settings.Timeouts.Install),
	}
	opts = append(opts, p.depsOpts...)

	required := deps.RequiredDependencies(*p.cfg)
	report, err := deps.New(p.run, p.info, p.tel, p.decider, opts...).CheckAndInstall(ctx, required)
	p.report.Dependencies = report
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"required":  required,
		"installed": len(report.Installed),
	}, nil
}

func (p *Pipeline) scaffold(ctx context.Context) (map[string]interface{}, error) {
	s := scaffold.New(p.tel.Session, p.scaffoldOpts...)
	res, err := s.CreateStructure(ctx, p.cfg.InstallDirectory, scaffold.Layout(*p.cfg), p.dryRun())
	p.report.Scaffold = res
	if err != nil {
		return nil, err
	}
	if res.Operation != nil {
		p.rollback.Push(res.Operation)
	}
	return map[string]interface{}{
		"planned": len(res.Planned),
		"created": len(res.Created),
	}, nil
}

// installCore fetches the NoxSuite sources when a repository is configured.
// Without one the services run from their published container images.
func (p *Pipeline) installCore(ctx context.Context) (map[string]interface{}, error) {
	repo := p.settings.SourceRepository
	if repo == "" {
		p.tel.Session.Info("No source repository configured; services run from container images", nil)
		return map[string]interface{}{"source": "images"}, nil
	}

	target := filepath.Join(p.cfg.InstallDirectory, "src")
	if p.dryRun() {
		p.tel.Session.Info("would clone "+repo+" into "+target, map[string]interface{}{"dry_run": true})
		return map[string]interface{}{"source": repo, "dry_run": true}, nil
	}
	if _, err := p.run.LookPath("git"); err != nil {
		return nil, engine.NewDependencyError("git is required to fetch the NoxSuite sources", err)
	}

	if _, err := os.Stat(filepath.Join(target, ".git")); err == nil {
		_, err := p.run.Run(ctx, runner.Command{
			Name:    "git",
			Args:    []string{"-C", target, "pull", "--ff-only"},
			Timeout: p.settings.Timeouts.Clone,
		})
		if err != nil {
			return nil, engine.NewAutomationFault("failed to update sources", err).AsTransient()
		}
		return map[string]interface{}{"source": repo, "updated": true}, nil
	}

	op := engine.NewAtomicOperation("clone_sources",
		func(ctx context.Context) (string, error) {
			_, err := p.run.Run(ctx, runner.Command{
				Name:    "git",
				Args:    []string{"clone", "--depth", "1", repo, target},
				Timeout: p.settings.Timeouts.Clone,
			})
			return target, err
		},
		func(_ context.Context, path string) error {
			return os.RemoveAll(path)
		},
	)
	if err := op.Execute(ctx); err != nil {
		return nil, engine.NewAutomationFault("failed to clone sources", err).
			WithOperation(op.Name).
			AsTransient()
	}
	p.rollback.Push(op)
	return map[string]interface{}{"source": repo, "cloned": true}, nil
}

// provisionModels pulls the selected models. Pull failures are warnings: the
// ollama service pulls missing models on first start.
func (p *Pipeline) provisionModels(ctx context.Context) (map[string]interface{}, error) {
	if !p.cfg.EnableAI {
		return nil, skip("AI features disabled")
	}
	log := p.tel.Session

	if p.dryRun() {
		for _, m := range p.cfg.AIModels {
			log.Info("would pull model "+m, map[string]interface{}{"model": m, "dry_run": true})
		}
		return map[string]interface{}{"models": p.cfg.AIModels, "dry_run": true}, nil
	}

	if _, err := p.run.LookPath("ollama"); err != nil {
		p.warn("ollama not found; models will be pulled when the ollama service starts", map[string]interface{}{"models": p.cfg.AIModels})
		return map[string]interface{}{"deferred": p.cfg.AIModels}, nil
	}

	pulled := []string{}
	for _, m := range p.cfg.AIModels {
		if err := ctx.Err(); err != nil {
			return nil, engine.NewUserAbort("model provisioning cancelled")
		}
		log.Info("Pulling model "+m, nil)
		if _, err := p.run.Run(ctx, runner.Command{
			Name:    "ollama",
			Args:    []string{"pull", m},
			Timeout: p.settings.Timeouts.Install,
		}); err != nil {
			p.warn("Failed to pull model "+m, map[string]interface{}{"model": m, "error": err.Error()})
			continue
		}
		pulled = append(pulled, m)
	}
	return map[string]interface{}{"pulled": pulled}, nil
}

// generateConfigs writes every artifact of the plan. Files of an existing
// installation are kept unless the plan forces a reinstall; with
// BackupExisting the config directory is copied aside first.
func (p *Pipeline) generateConfigs(ctx context.Context) (map[string]interface{}, error) {
	dir := p.cfg.InstallDirectory
	dry := p.dryRun()

	if p.existing && p.cfg.BackupExisting {
		dst := filepath.Join(dir, BackupDir, p.report.SessionID, "config")
		if dry {
			p.tel.Session.Info("would back up configuration to "+dst, map[string]interface{}{"dry_run": true})
		} else {
			copied, err := copyTree(filepath.Join(dir, "config"), dst)
			if err != nil {
				return nil, engine.NewScaffoldError("failed to back up existing configuration", err).
					WithOperation("backup_config").
					WithDetail("destination", dst)
			}
			if copied > 0 {
				p.report.BackupDir = dst
				p.tel.Session.Info("Backed up existing configuration", map[string]interface{}{"destination": dst, "files": copied})
			}
		}
	}

	arts := config.Artifacts(*p.cfg, p.info)
	existed := make(map[string]bool, len(arts))
	for _, a := range arts {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(a.Path))); err == nil {
			existed[a.Path] = true
		}
	}

	gen := config.NewGenerator(p.schemas, p.tel.Session)
	op := engine.NewAtomicOperation("generate_configuration",
		func(ctx context.Context) (*config.GenerateResult, error) {
			return gen.Generate(ctx, dir, arts, p.cfg.ForceReinstall, dry)
		},
		func(_ context.Context, res *config.GenerateResult) error {
			if res == nil || res.DryRun {
				return nil
			}
			var errs []error
			for _, rel := range res.Written {
				if existed[rel] {
					continue
				}
				if err := os.Remove(filepath.Join(dir, filepath.FromSlash(rel))); err != nil && !errors.Is(err, fs.ErrNotExist) {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	)
	err := op.Execute(ctx)
	res := op.Token()
	p.report.Generated = res
	if err != nil {
		return nil, err
	}
	if !dry {
		p.rollback.Push(op)
	}
	return map[string]interface{}{
		"written": len(res.Written),
		"kept":    len(res.Kept),
	}, nil
}

// setupServices starts the compose stack when auto-start is enabled. A
// failure to start is reported but does not fail the installation.
func (p *Pipeline) setupServices(ctx context.Context) (map[string]interface{}, error) {
	if !p.cfg.AutoStart {
		return nil, skip("auto-start disabled")
	}
	compose := filepath.Join(p.cfg.InstallDirectory, filepath.FromSlash(config.ComposeFilePath))
	if p.dryRun() {
		p.tel.Session.Info("would start services from "+compose, map[string]interface{}{"dry_run": true})
		return map[string]interface{}{"dry_run": true}, nil
	}
	if _, err := p.run.LookPath("docker"); err != nil {
		p.warn("Container runtime not found; start services later with the start script", nil)
		return map[string]interface{}{"started": false}, nil
	}

	compose = filepath.Clean(compose)
	op := engine.NewAtomicOperation("start_services",
		func(ctx context.Context) (string, error) {
			_, err := p.run.Run(ctx, runner.Command{
				Name:    "docker",
				Args:    []string{"compose", "-f", compose, "up", "-d"},
				Timeout: p.settings.Timeouts.Install,
				Dir:     p.cfg.InstallDirectory,
			})
			return compose, err
		},
		func(ctx context.Context, file string) error {
			_, err := p.run.Run(ctx, runner.Command{
				Name:    "docker",
				Args:    []string{"compose", "-f", file, "down"},
				Timeout: p.settings.Timeouts.Install,
				Dir:     p.cfg.InstallDirectory,
			})
			return err
		},
	)
	if err := op.Execute(ctx); err != nil {
		p.warn("Services could not be started", map[string]interface{}{"error": err.Error()})
		return map[string]interface{}{"started": false}, nil
	}
	p.rollback.Push(op)
	return map[string]interface{}{"started": true}, nil
}

// validateInstallation validates and heals the result. Failures that remain
// after healing are reported as warnings; the installation stays in place so
// the heal command can be run later.
func (p *Pipeline) validateInstallation(ctx context.Context) (map[string]interface{}, error) {
	if p.dryRun() {
		p.tel.Session.Info("would validate the installation", map[string]interface{}{"dry_run": true})
		return map[string]interface{}{"dry_run": true}, nil
	}

	v := validate.New(*p.cfg, p.info, p.schemas, p.run, p.tel, p.validateOpts...)
	res, healing, err := v.Heal(ctx)
	p.report.Validation = res
	p.report.Healing = healing
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failures {
		p.report.Warnings = append(p.report.Warnings, f.Check+": "+f.Message)
	}

	healed := 0
	if healing != nil {
		healed = healing.HealedCount()
	}
	return map[string]interface{}{
		"total":  res.Total,
		"passed": res.Passed,
		"healed": healed,
	}, nil
}

func (p *Pipeline) finalize(_ context.Context) (map[string]interface{}, error) {
	dir := p.cfg.InstallDirectory
	path := filepath.Join(dir, SummaryFile)
	p.report.SummaryPath = path
	p.report.Duration = time.Since(p.started)

	status := p.report.Status()
	p.tel.Metrics.RecordInstall(string(p.cfg.Mode), status, p.report.Duration)
	p.recorded = true

	if p.dryRun() {
		p.tel.Session.Info("would write "+path, map[string]interface{}{"dry_run": true})
	} else {
		summary := NewSummary(p.report, p.info, time.Now())
		if err := WriteSummary(path, summary); err != nil {
			return nil, engine.NewScaffoldError("failed to write installation summary", err).
				WithOperation("write_summary").
				WithDetail("path", path)
		}
		if name := p.settings.MetricsTextfile; name != "" {
			if err := p.tel.Metrics.WriteTextfile(filepath.Join(dir, name)); err != nil {
				p.warn("Failed to write metrics textfile", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	p.reporter.Completion(p.report)
	return map[string]interface{}{
		"status":   status,
		"summary":  path,
		"duration": p.report.Duration.String(),
	}, nil
}
