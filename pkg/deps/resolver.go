// Package deps makes the external tools an installation needs available.
//
// Each dependency is checked by PATH lookup and a version probe. Missing or
// outdated tools go through an ordered chain of strategies (platform package
// managers first, then manual download and containerized fallbacks). A
// strategy only counts once the tool verifies independently afterwards.
// Whole-chain failures are retried up to a fixed bound per dependency.
package deps

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// DefaultGraceDelay is waited after an installer reports success before the
// dependency is verified.
const DefaultGraceDelay = 2 * time.Second

// Status describes one dependency on this host.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Required  string `json:"required_version,omitempty"`
	VersionOK bool   `json:"version_ok"`
}

// Satisfied reports whether the dependency is present and recent enough.
func (s Status) Satisfied() bool {
	return s.Available && s.VersionOK
}

// Report summarizes a CheckAndInstall call.
type Report struct {
	Statuses map[string]Status `json:"statuses"`

	// Installed maps a dependency to the strategy that satisfied it.
	Installed map[string]StrategyID `json:"installed"`

	// Outdated lists dependencies that were present but too old.
	Outdated []string `json:"outdated"`

	Failed []string `json:"failed"`
	DryRun bool     `json:"dry_run"`
}

// Resolver checks and installs dependencies.
type Resolver struct {
	runner  runner.Runner
	info    engine.SystemInfo
	tel     *telemetry.Telemetry
	decider engine.Decider

	strategies          []Strategy
	graceDelay          time.Duration
	maxRetries          int
	installTimeout      time.Duration
	shimDir             string
	dryRun              bool
	preferContainerized bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Resolver) {
		r.strategies = strategies
	}
}

// WithGraceDelay sets the delay between an install and its verification.
func WithGraceDelay(d time.Duration) Option {
	return func(r *Resolver) {
		r.graceDelay = d
	}
}

// WithMaxRetries bounds how often a dependency's whole chain is retried.
func WithMaxRetries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithInstallTimeout bounds each installer invocation.
func WithInstallTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.installTimeout = d
		}
	}
}

// WithShimDir sets where containerized shims are written.
func WithShimDir(dir string) Option {
	return func(r *Resolver) {
		r.shimDir = dir
	}
}

// WithDryRun makes installs log-only.
func WithDryRun(dryRun bool) Option {
	return func(r *Resolver) {
		r.dryRun = dryRun
	}
}

// WithPreferContainerized moves the containerized strategy to the front.
func WithPreferContainerized(prefer bool) Option {
	return func(r *Resolver) {
		r.preferContainerized = prefer
	}
}

// New creates a Resolver for the probed host.
func New(run runner.Runner, info engine.SystemInfo, tel *telemetry.Telemetry, decider engine.Decider, opts ...Option) *Resolver {
	r := &Resolver{
		runner:         run,
		info:           info,
		tel:            tel,
		decider:        decider,
		strategies:     DefaultStrategies(),
		graceDelay:     DefaultGraceDelay,
		maxRetries:     engine.MaxStepRetries,
		installTimeout: runner.InstallTimeout,
	}
	if info.HomeDir != "" {
		r.shimDir = filepath.Join(info.HomeDir, ".noxsuite", "bin")
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequiredDependencies returns the tools a plan needs: docker and git
// always, node when mobile is enabled or a react module is selected.
func RequiredDependencies(cfg engine.InstallConfig) []string {
	deps := []string{"docker", "git"}
	needsNode := cfg.EnableMobile
	for _, m := range cfg.Modules {
		if strings.Contains(strings.ToLower(m), "react") {
			needsNode = true
		}
	}
	if needsNode {
		deps = append(deps, "node")
	}
	return deps
}

// CheckStatus determines whether dep is available and recent enough.
// Probe failures degrade to "unknown" rather than an error.
func (r *Resolver) CheckStatus(ctx context.Context, dep string) Status {
	st := Status{Name: dep, VersionOK: true}

	name := dep
	path, err := r.runner.LookPath(dep)
	if err != nil {
		path = r.shim(dep)
		if path == "" {
			st.VersionOK = false
			return st
		}
		name = path
	}
	st.Available = true
	st.Path = path
	st.Version = UnknownVersion

	for _, flag := range VersionFlags {
		res, err := r.runner.Run(ctx, runner.Command{Name: name, Args: []string{flag}, Timeout: runner.ProbeTimeout})
		if err != nil || res == nil {
			continue
		}
		if v := ExtractVersion(res.Combined()); v != UnknownVersion {
			st.Version = v
			break
		}
	}

	st.Required, st.VersionOK = VersionOK(dep, st.Version)
	return st
}

func (r *Resolver) shim(dep string) string {
	if r.shimDir == "" {
		return ""
	}
	p := ShimPath(r.shimDir, dep, r.info.OSType)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p
	}
	return ""
}

// CheckAndInstall ensures every dependency in deps is available and
// version-compatible. It returns nil only if each one verifies afterwards.
// Dependencies already satisfied are never touched, and those satisfied
// during the call are not rolled back when a later one fails.
func (r *Resolver) CheckAndInstall(ctx context.Context, deps []string) (*Report, error) {
	log := r.tel.Session
	report := &Report{
		Statuses:  make(map[string]Status, len(deps)),
		Installed: make(map[string]StrategyID),
		Outdated:  []string{},
		Failed:    []string{},
		DryRun:    r.dryRun,
	}

	log.StepStart("checking_dependencies", fmt.Sprintf("Validating %d dependencies", len(deps)))

	var pending []string
	for _, dep := range deps {
		st := r.CheckStatus(ctx, dep)
		report.Statuses[dep] = st
		switch {
		case st.Satisfied():
			log.Debug(fmt.Sprintf("%s: %s", dep, st.Version), nil)
		case st.Available:
			report.Outdated = append(report.Outdated, dep)
			pending = append(pending, dep)
			log.Warning(fmt.Sprintf("%s: version %s (need %s)", dep, st.Version, st.Required), map[string]interface{}{
				"dependency": dep,
				"version":    st.Version,
				"required":   st.Required,
			})
		default:
			pending = append(pending, dep)
			log.Debug(dep+": not found", nil)
		}
	}

	if len(pending) == 0 {
		log.StepComplete("checking_dependencies", map[string]interface{}{"all_satisfied": true})
		return report, nil
	}

	log.Info("Missing or outdated dependencies: "+strings.Join(pending, ", "), map[string]interface{}{
		"dependencies": pending,
	})

	if r.dryRun {
		for _, dep := range pending {
			chain := orderStrategies(r.strategies, r.info, r.preferContainerized)
			method := "no applicable strategy"
			if len(chain) > 0 {
				method = string(chain[0].ID)
			}
			log.Info(fmt.Sprintf("would install %s via %s", dep, method), map[string]interface{}{
				"dependency": dep,
				"strategy":   method,
				"dry_run":    true,
			})
		}
		log.StepComplete("checking_dependencies", map[string]interface{}{"dry_run": true, "pending": pending})
		return report, nil
	}

	ok, err := r.decider.Confirm(ctx, "Install missing dependencies automatically ("+strings.Join(pending, ", ")+")?", true)
	if err != nil {
		return report, err
	}
	if !ok {
		return report, engine.NewUserAbort("dependency installation declined").WithStep("checking_dependencies")
	}

	for _, dep := range pending {
		id, err := r.installOne(ctx, dep)
		if err != nil {
			report.Failed = append(report.Failed, dep)
			return report, err
		}
		report.Installed[dep] = id
		report.Statuses[dep] = r.CheckStatus(ctx, dep)
	}

	log.StepComplete("checking_dependencies", map[string]interface{}{
		"installed": slices.Sorted(maps.Keys(report.Installed)),
		"updated":   report.Outdated,
	})
	return report, nil
}

// installOne runs the strategy chain for dep, retrying the whole chain
// until the retry budget for dep is spent. Every call starts with a fresh
// budget.
func (r *Resolver) installOne(ctx context.Context, dep string) (StrategyID, error) {
	const step = "installing_dependency"
	log := r.tel.Session
	log.StepStart(step, "Installing "+dep)

	chain := orderStrategies(r.strategies, r.info, r.preferContainerized)
	var lastErr error

	attempts := 0
	for ; attempts < r.maxRetries; attempts++ {
		for _, s := range chain {
			if err := ctx.Err(); err != nil {
				return "", engine.NewUserAbort("dependency installation cancelled").WithStep(step)
			}
			err := r.tryStrategy(ctx, s, dep, attempts+1)
			if err == nil {
				log.StepComplete(step, map[string]interface{}{
					"dependency":  dep,
					"method":      string(s.ID),
					"retry_count": attempts,
				})
				return s.ID, nil
			}
			lastErr = err
			log.Debug(fmt.Sprintf("strategy %s failed for %s: %v", s.ID, dep, err), nil)
		}
	}

	derr := engine.NewDependencyError(fmt.Sprintf("all installation strategies failed for %s", dep), lastErr).
		WithCode(engine.ErrCodeRetriesExhausted).
		WithStep(step).
		WithDetail("dependency", dep).
		WithDetail("attempts", attempts)
	log.StepError(step, derr, map[string]interface{}{"dependency": dep})
	return "", derr
}

func (r *Resolver) tryStrategy(ctx context.Context, s Strategy, dep string, attempt int) (err error) {
	spanCtx, span := r.tel.Tracer.StartStrategySpan(ctx, dep, string(s.ID), attempt)
	defer func() {
		telemetry.EndSpan(span, err)
		r.tel.Metrics.RecordStrategyAttempt(dep, string(s.ID), err == nil)
	}()

	env := Env{
		Runner:  r.runner,
		Info:    r.info,
		ShimDir: r.shimDir,
		Timeout: r.installTimeout,
	}
	if err := s.Install(spanCtx, env, dep); err != nil {
		return err
	}

	if err := sleep(spanCtx, r.graceDelay); err != nil {
		return err
	}

	st := r.CheckStatus(spanCtx, dep)
	if !st.Satisfied() {
		r.tel.Session.Warning("Installation verification failed for "+dep, map[string]interface{}{
			"dependency": dep,
			"strategy":   string(s.ID),
			"available":  st.Available,
			"version":    st.Version,
		})
		return errVerificationFailed
	}
	return nil
}

var errVerificationFailed = errors.New("dependency not verifiable after install")

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
