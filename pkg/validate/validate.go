// Package validate checks a finished installation and heals the gaps it
// knows how to regenerate.
//
// Validation covers the directory tree, every generated artifact (present,
// parseable, schema-valid) and whether the container runtime accepts the
// compose file. With a policy engine attached, the installed configuration is
// also re-evaluated against the plan policies. Healing walks an ordered table of recoverable failure kinds;
// anything not in the table is passed through for manual resolution.
package validate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/scaffold"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// FailureKind classifies a validation failure.
type FailureKind string

const (
	KindMissingDirectory   FailureKind = "missing_directory"
	KindMissingConfig      FailureKind = "missing_config"
	KindInvalidConfig      FailureKind = "invalid_config"
	KindServiceUnavailable FailureKind = "service_unavailable"
	KindPolicyViolation    FailureKind = "policy_violation"
)

// Failure is one failed check.
type Failure struct {
	Check   string      `json:"check"`
	Kind    FailureKind `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"message"`
}

// ValidationResult summarizes one validation pass.
type ValidationResult struct {
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failures  []Failure `json:"failures"`
	CheckedAt time.Time `json:"checked_at"`
}

// OK reports whether every check passed.
func (r *ValidationResult) OK() bool {
	return len(r.Failures) == 0
}

// HealingResult summarizes one auto-healing pass.
type HealingResult struct {
	Healed        []Failure `json:"healed"`
	Unrecoverable []Failure `json:"unrecoverable"`
}

// HealedCount returns the number of failures that were repaired.
func (h *HealingResult) HealedCount() int {
	return len(h.Healed)
}

// Validator validates and heals one installation.
type Validator struct {
	cfg     engine.InstallConfig
	info    engine.SystemInfo
	schemas *config.SchemaRegistry
	gen     *config.Generator
	runner  runner.Runner
	tel     *telemetry.Telemetry

	checkServices bool
	policies      *policy.Engine
	mkdirAll      func(path string, perm fs.FileMode) error
	healers       []healer
}

// Option configures a Validator.
type Option func(*Validator)

// WithServiceCheck enables or disables the container runtime check.
func WithServiceCheck(enabled bool) Option {
	return func(v *Validator) {
		v.checkServices = enabled
	}
}

// WithPolicies re-evaluates the installed configuration against the policy
// engine on every pass. Blocking findings fail the pass and cannot be healed.
func WithPolicies(e *policy.Engine) Option {
	return func(v *Validator) {
		v.policies = e
	}
}

// WithMkdirAll replaces the directory creation used while healing.
func WithMkdirAll(fn func(path string, perm fs.FileMode) error) Option {
	return func(v *Validator) {
		v.mkdirAll = fn
	}
}

// New creates a Validator for the installation described by cfg.
func New(cfg engine.InstallConfig, info engine.SystemInfo, schemas *config.SchemaRegistry, run runner.Runner, tel *telemetry.Telemetry, opts ...Option) *Validator {
	v := &Validator{
		cfg:           cfg,
		info:          info,
		schemas:       schemas,
		gen:           config.NewGenerator(schemas, tel.Session),
		runner:        run,
		tel:           tel,
		checkServices: true,
		mkdirAll:      os.MkdirAll,
	}
	v.healers = []healer{
		{KindMissingDirectory, v.healDirectory},
		{KindMissingConfig, v.healArtifact},
		{KindInvalidConfig, v.healArtifact},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check and returns the result. It only returns an
// error when the context is cancelled.
func (v *Validator) Validate(ctx context.Context) (*ValidationResult, error) {
	res := &ValidationResult{Failures: []Failure{}, CheckedAt: time.Now()}
	record := func(f *Failure) {
		res.Total++
		if f == nil {
			res.Passed++
			return
		}
		res.Failures = append(res.Failures, *f)
		v.tel.Session.Warning("validation failed: "+f.Message, map[string]interface{}{
			"check": f.Check,
			"kind":  string(f.Kind),
			"path":  f.Path,
		})
	}

	base := v.cfg.InstallDirectory
	for _, dir := range scaffold.RequiredDirs(base, v.cfg) {
		if err := ctx.Err(); err != nil {
			return res, engine.NewUserAbort("validation cancelled")
		}
		record(checkDirectory(base, dir))
	}

	for _, a := range v.artifacts() {
		if err := ctx.Err(); err != nil {
			return res, engine.NewUserAbort("validation cancelled")
		}
		record(v.checkArtifact(a))
	}

	if v.checkServices {
		record(v.checkComposeRuntime(ctx))
	}

	if v.policies != nil {
		failures := v.checkPolicies(ctx)
		if len(failures) == 0 {
			record(nil)
		}
		for i := range failures {
			record(&failures[i])
		}
	}

	v.tel.Metrics.RecordValidation(res.Total, res.Passed)
	v.tel.Session.Info(fmt.Sprintf("validation: %d/%d checks passed", res.Passed, res.Total), map[string]interface{}{
		"total":    res.Total,
		"passed":   res.Passed,
		"failures": len(res.Failures),
	})
	return res, nil
}

// checkPolicies evaluates the installed configuration. Warning findings are
// logged; blocking findings become failures.
func (v *Validator) checkPolicies(ctx context.Context) []Failure {
	res, err := v.policies.EvaluatePlan(ctx, &policy.PlanInput{
		Plan:    v.cfg,
		System:  v.info,
		Context: &policy.PolicyContext{Timestamp: time.Now(), Operation: "validate"},
	})
	if err != nil {
		return []Failure{{Check: "policy", Kind: KindPolicyViolation, Message: "policy evaluation failed: " + err.Error()}}
	}

	var failures []Failure
	for _, viol := range res.Violations {
		if !viol.Severity.Blocking() {
			v.tel.Session.Warning(viol.Message, map[string]interface{}{"policy": viol.Policy})
			continue
		}
		failures = append(failures, Failure{
			Check:   "policy:" + viol.Policy,
			Kind:    KindPolicyViolation,
			Path:    v.cfg.InstallDirectory,
			Message: viol.Message,
		})
	}
	return failures
}

func (v *Validator) artifacts() []config.Artifact {
	return config.Artifacts(v.cfg, v.info)
}

func checkDirectory(base, dir string) *Failure {
	rel, err := filepath.Rel(base, dir)
	if err != nil {
		rel = dir
	}
	fi, err := os.Stat(dir)
	if err == nil && fi.IsDir() {
		return nil
	}
	return &Failure{
		Check:   "directory:" + filepath.ToSlash(rel),
		Kind:    KindMissingDirectory,
		Path:    dir,
		Message: "missing directory " + filepath.ToSlash(rel),
	}
}

func (v *Validator) checkArtifact(a config.Artifact) *Failure {
	err := v.schemas.Check(v.cfg.InstallDirectory, a)
	if err == nil {
		return nil
	}
	f := &Failure{
		Check: "config:" + a.Path,
		Path:  filepath.Join(v.cfg.InstallDirectory, filepath.FromSlash(a.Path)),
	}
	if errors.Is(err, fs.ErrNotExist) {
		f.Kind = KindMissingConfig
		f.Message = "missing configuration file " + a.Path
	} else {
		f.Kind = KindInvalidConfig
		f.Message = fmt.Sprintf("invalid configuration file %s: %v", a.Path, err)
	}
	return f
}

func (v *Validator) checkComposeRuntime(ctx context.Context) *Failure {
	const check = "service:docker-compose"
	if _, err := v.runner.LookPath("docker"); err != nil {
		return &Failure{Check: check, Kind: KindServiceUnavailable, Message: "container runtime not found"}
	}
	compose := filepath.Join(v.cfg.InstallDirectory, filepath.FromSlash(config.ComposeFilePath))
	_, err := v.runner.Run(ctx, runner.Command{
		Name:    "docker",
		Args:    []string{"compose", "-f", compose, "config", "--quiet"},
		Timeout: runner.ProbeTimeout,
		Dir:     v.cfg.InstallDirectory,
	})
	if err != nil {
		return &Failure{
			Check:   check,
			Kind:    KindServiceUnavailable,
			Path:    compose,
			Message: "compose file rejected by container runtime: " + err.Error(),
		}
	}
	return nil
}

type healer struct {
	kind FailureKind
	heal func(ctx context.Context, f Failure) error
}

func (v *Validator) healerFor(kind FailureKind) func(context.Context, Failure) error {
	for _, h := range v.healers {
		if h.kind == kind {
			return h.heal
		}
	}
	return nil
}

// AttemptAutoHealing regenerates every recoverable failure from its built-in
// template and re-validates it. Failures without a healer, or whose repair
// does not re-validate, are returned as unrecoverable.
func (v *Validator) AttemptAutoHealing(ctx context.Context, failures []Failure) (*HealingResult, error) {
	res := &HealingResult{Healed: []Failure{}, Unrecoverable: []Failure{}}
	for _, f := range failures {
		if err := ctx.Err(); err != nil {
			return res, engine.NewUserAbort("auto-healing cancelled")
		}

		heal := v.healerFor(f.Kind)
		if heal == nil {
			res.Unrecoverable = append(res.Unrecoverable, f)
			continue
		}
		if err := heal(ctx, f); err != nil {
			v.tel.Session.Warning("auto-healing failed for "+f.Check, map[string]interface{}{
				"kind":  string(f.Kind),
				"error": err.Error(),
			})
			res.Unrecoverable = append(res.Unrecoverable, f)
			continue
		}
		v.tel.Session.Info("healed "+f.Check, map[string]interface{}{"kind": string(f.Kind), "path": f.Path})
		res.Healed = append(res.Healed, f)
	}

	v.tel.Metrics.RecordHealing(len(res.Healed), len(res.Unrecoverable))
	return res, nil
}

func (v *Validator) healDirectory(_ context.Context, f Failure) error {
	if err := v.mkdirAll(f.Path, scaffold.DirPerm); err != nil {
		return err
	}
	if failure := checkDirectory(v.cfg.InstallDirectory, f.Path); failure != nil {
		return errors.New(failure.Message)
	}
	return nil
}

func (v *Validator) healArtifact(_ context.Context, f Failure) error {
	a, ok := v.artifactFor(f.Path)
	if !ok {
		return fmt.Errorf("no template for %s", f.Path)
	}
	if f.Kind == KindInvalidConfig {
		aside := f.Path + ".corrupt"
		if err := os.Rename(f.Path, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := v.gen.WriteArtifact(v.cfg.InstallDirectory, a); err != nil {
		return err
	}
	if failure := v.checkArtifact(a); failure != nil {
		return errors.New(failure.Message)
	}
	return nil
}

func (v *Validator) artifactFor(path string) (config.Artifact, bool) {
	for _, a := range v.artifacts() {
		if filepath.Join(v.cfg.InstallDirectory, filepath.FromSlash(a.Path)) == path {
			return a, true
		}
	}
	return config.Artifact{}, false
}

// Heal validates, heals what it can and validates again. The returned
// validation result reflects the state after healing.
func (v *Validator) Heal(ctx context.Context) (*ValidationResult, *HealingResult, error) {
	first, err := v.Validate(ctx)
	if err != nil {
		return first, nil, err
	}
	if first.OK() {
		return first, &HealingResult{Healed: []Failure{}, Unrecoverable: []Failure{}}, nil
	}
	healing, err := v.AttemptAutoHealing(ctx, first.Failures)
	if err != nil {
		return first, healing, err
	}
	if healing.HealedCount() == 0 {
		return first, healing, nil
	}
	second, err := v.Validate(ctx)
	return second, healing, err
}
