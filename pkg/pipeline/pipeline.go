package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/noxsuite/noxinstall/pkg/audit"
	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/deps"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/probe"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/scaffold"
	"github.com/noxsuite/noxinstall/pkg/stores"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
	"github.com/noxsuite/noxinstall/pkg/validate"
	"github.com/noxsuite/noxinstall/pkg/wizard"
)

// Phase names in execution order.
const (
	PhaseConfiguration = "configuring_plan"
	PhasePreChecks     = "checking_prerequisites"
	PhaseDependencies  = "installing_dependencies"
	PhaseScaffold      = "creating_directories"
	PhaseCore          = "installing_core"
	PhaseModels        = "downloading_models"
	PhaseConfigs       = "generating_configuration"
	PhaseServices      = "configuring_services"
	PhaseValidation    = "testing_installation"
	PhaseFinalize      = "finalizing_installation"
)

// DefaultRetryDelay is the base backoff between attempts of a transient phase failure.
const DefaultRetryDelay = time.Second

// DialFunc opens a network connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Reporter renders the outcome of a successful run.
type Reporter interface {
	Completion(report *Report)
}

// NopReporter renders nothing.
type NopReporter struct{}

// Completion implements Reporter.
func (NopReporter) Completion(*Report) {}

// Pipeline drives one installation from plan to summary. Phases run strictly
// in order; the first failing phase stops the run and every recorded
// operation is rolled back.
type Pipeline struct {
	info     engine.SystemInfo
	run      runner.Runner
	tel      *telemetry.Telemetry
	decider  engine.Decider
	settings *config.Settings
	analysis *audit.Analysis

	policies   *policy.Engine
	schemas    *config.SchemaRegistry
	store      stores.Store
	presenter  wizard.Presenter
	reporter   Reporter
	freeSpace  func(string) (float64, error)
	dial       DialFunc
	retryDelay time.Duration
	directory  string

	depsOpts     []deps.Option
	scaffoldOpts []scaffold.Option
	validateOpts []validate.Option

	// per-run state
	cfg      *engine.InstallConfig
	report   *Report
	rollback *engine.RollbackStack
	history  *stores.History
	existing bool
	started  time.Time
	recorded bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicies sets the engine producing plan preview warnings.
func WithPolicies(e *policy.Engine) Option {
	return func(p *Pipeline) {
		p.policies = e
	}
}

// WithSchemas sets the registry used to validate generated documents.
func WithSchemas(sr *config.SchemaRegistry) Option {
	return func(p *Pipeline) {
		if sr != nil {
			p.schemas = sr
		}
	}
}

// WithHistory records the run in store.
func WithHistory(store stores.Store) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithPresenter sets the wizard screen renderer.
func WithPresenter(pr wizard.Presenter) Option {
	return func(p *Pipeline) {
		p.presenter = pr
	}
}

// WithReporter sets the completion report renderer.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithFreeSpace replaces the free space probe.
func WithFreeSpace(fn func(string) (float64, error)) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.freeSpace = fn
		}
	}
}

// WithDialer replaces the dialer used by the network reachability check.
func WithDialer(fn DialFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.dial = fn
		}
	}
}

// WithRetryDelay sets the base backoff between phase attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		p.retryDelay = d
	}
}

// WithInstallDirectory replaces the wizard's default install directory.
func WithInstallDirectory(dir string) Option {
	return func(p *Pipeline) {
		p.directory = dir
	}
}

// WithDependencyOptions appends options for the dependency resolver.
func WithDependencyOptions(opts ...deps.Option) Option {
	return func(p *Pipeline) {
		p.depsOpts = append(p.depsOpts, opts...)
	}
}

// WithScaffoldOptions appends options for the scaffolder.
func WithScaffoldOptions(opts ...scaffold.Option) Option {
	return func(p *Pipeline) {
		p.scaffoldOpts = append(p.scaffoldOpts, opts...)
	}
}

// WithValidatorOptions appends options for the installation validator.
func WithValidatorOptions(opts ...validate.Option) Option {
	return func(p *Pipeline) {
		p.validateOpts = append(p.validateOpts, opts...)
	}
}

// New creates a Pipeline for the probed host. settings and analysis may be nil.
func New(info engine.SystemInfo, run runner.Runner, tel *telemetry.Telemetry, decider engine.Decider, settings *config.Settings, analysis *audit.Analysis, opts ...Option) *Pipeline {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if analysis == nil {
		analysis = audit.NewAnalysis()
	}
	p := &Pipeline{
		info:       info,
		run:        run,
		tel:        tel,
		decider:    decider,
		settings:   settings,
		analysis:   analysis,
		presenter:  wizard.NopPresenter{},
		reporter:   NopReporter{},
		freeSpace:  probe.FreeSpaceGB,
		retryDelay: DefaultRetryDelay,
	}
	d := &net.Dialer{Timeout: settings.Network.Timeout}
	p.dial = d.DialContext
	for _, opt := range opts {
		opt(p)
	}
	if p.schemas == nil {
		p.schemas = config.NewSchemaRegistry()
	}
	return p
}

type phaseFunc func(ctx context.Context) (map[string]interface{}, error)

type phase struct {
	name        string
	description string
	dependsOn   []string
	run         phaseFunc
}

func (p *Pipeline) phases(mode engine.InstallMode) []phase {
	return []phase{
		{PhaseConfiguration, "Building the install plan", nil, func(ctx context.Context) (map[string]interface{}, error) {
			return p.configure(ctx, mode)
		}},
		{PhasePreChecks, "Running pre-installation checks", []string{PhaseConfiguration}, p.preChecks},
		{PhaseDependencies, "Resolving external dependencies", []string{PhasePreChecks}, p.dependencies},
		{PhaseScaffold, "Creating the directory structure", []string{PhasePreChecks}, p.scaffold},
		{PhaseCore, "Installing core components", []string{PhaseDependencies, PhaseScaffold}, p.installCore},
		{PhaseModels, "Provisioning AI models", []string{PhaseDependencies, PhaseScaffold}, p.provisionModels},
		{PhaseConfigs, "Generating configuration files", []string{PhaseScaffold}, p.generateConfigs},
		{PhaseServices, "Setting up services", []string{PhaseCore, PhaseConfigs}, p.setupServices},
		{PhaseValidation, "Validating the installation", []string{PhaseConfigs}, p.validateInstallation},
		{PhaseFinalize, "Finalizing the installation", []string{PhaseServices, PhaseModels, PhaseValidation}, p.finalize},
	}
}

// plan orders the phases of mode by their declared dependencies.
func (p *Pipeline) plan(mode engine.InstallMode) ([]phase, *engine.StepGraph, error) {
	defs := p.phases(mode)
	byName := make(map[string]phase, len(defs))
	nodes := make([]*engine.InstallStep, 0, len(defs))
	for _, ph := range defs {
		byName[ph.name] = ph
		nodes = append(nodes, engine.NewInstallStep(ph.name, ph.description, ph.dependsOn...))
	}
	graph, err := engine.NewStepGraph(nodes)
	if err != nil {
		return nil, nil, err
	}
	ordered := make([]phase, 0, len(defs))
	for _, name := range graph.Order() {
		ordered = append(ordered, byName[name])
	}
	return ordered, graph, nil
}

// Run executes every phase for mode. On failure or cancellation the
// operations recorded so far are rolled back before the error is returned.
// The report is returned in both cases.
func (p *Pipeline) Run(ctx context.Context, mode engine.InstallMode) (*Report, error) {
	p.started = time.Now()
	p.cfg = nil
	p.existing = false
	p.recorded = false
	p.rollback = &engine.RollbackStack{}
	p.report = &Report{
		SessionID: p.tel.Session.SessionID(),
		Mode:      mode,
		DryRun:    mode.IsDryRun(),
		Steps:     []*engine.InstallStep{},
		Warnings:  []string{},
		LogFile:   p.tel.Session.Path(),
	}

	p.tel.Session.Info("NoxSuite installation started", map[string]interface{}{
		"mode":       string(mode),
		"session_id": p.report.SessionID,
	})
	p.beginHistory(ctx, mode)

	ordered, graph, err := p.plan(mode)
	if err == nil {
		for _, ph := range ordered {
			if err = p.runPhase(ctx, ph); err != nil {
				if blocked := graph.Downstream(ph.name); len(blocked) > 0 {
					p.tel.Session.Debug("Skipping dependent steps", map[string]interface{}{
						"step":    ph.name,
						"blocked": blocked,
					})
				}
				break
			}
		}
	}

	p.report.Duration = time.Since(p.started)
	if err != nil {
		err = p.fail(ctx, err)
	}
	p.finishHistory(ctx, err)
	return p.report, err
}

// runPhase executes one phase as an InstallStep. Transient automation faults
// are retried with a linear backoff up to the step's retry bound; dependency
// retries are owned by the resolver.
func (p *Pipeline) runPhase(ctx context.Context, ph phase) error {
	log := p.tel.Session

	step := engine.NewInstallStep(ph.name, ph.description, ph.dependsOn...)
	p.report.Steps = append(p.report.Steps, step)

	if ctx.Err() != nil {
		_ = step.Skip()
		return engine.NewUserAbort("installation cancelled").WithStep(ph.name)
	}

	span := p.tel.StartPhase(ctx, ph.name)
	_ = step.Start()
	log.StepStart(ph.name, ph.description)

	for {
		details, err := invoke(span.Ctx, ph)

		var sk *skipped
		switch {
		case err == nil:
			_ = step.Complete()
			log.StepComplete(ph.name, details)
			span.End(engine.StepCompleted, nil)
			return nil

		case errors.As(err, &sk):
			_ = step.Skip()
			log.StepComplete(ph.name, map[string]interface{}{"skipped": true, "reason": sk.reason})
			span.End(engine.StepSkipped, nil)
			return nil

		case retryable(err) && ctx.Err() == nil && step.Retry():
			log.Warning(fmt.Sprintf("%s failed, retrying (%d/%d)", telemetry.StepTitle(ph.name), step.RetryCount, step.MaxRetries), map[string]interface{}{
				"step":  ph.name,
				"error": err.Error(),
			})
			if werr := sleep(ctx, time.Duration(step.RetryCount)*p.retryDelay); werr != nil {
				err = werr
				break
			}
			_ = step.Start()
			continue
		}

		err = classify(ctx, ph.name, err)
		_ = step.Fail(err)
		if engine.IsUserAbort(err) {
			log.Warning(telemetry.StepTitle(ph.name)+" cancelled", map[string]interface{}{"step": ph.name})
		} else {
			log.StepError(ph.name, err, map[string]interface{}{
				"retries": step.RetryCount,
				"mode":    string(p.report.Mode),
			})
		}
		span.End(engine.StepFailed, err)
		return err
	}
}

// fail rolls back recorded operations and records the failed run.
func (p *Pipeline) fail(ctx context.Context, err error) error {
	log := p.tel.Session
	cleanup := context.WithoutCancel(ctx)

	if n := p.rollback.Len(); n > 0 {
		log.Warning("Rolling back partial installation", map[string]interface{}{"operations": n})
		if failed := p.rollback.RollbackAll(cleanup); len(failed) > 0 {
			p.report.RollbackFailures = failed
			log.Warning("Cleanup incomplete", map[string]interface{}{"operations": failed})
		}
	}

	status := string(stores.StatusFor(err))
	if !p.recorded {
		p.tel.Metrics.RecordInstall(string(p.report.Mode), status, p.report.Duration)
		p.recorded = true
	}
	return err
}

func (p *Pipeline) beginHistory(ctx context.Context, mode engine.InstallMode) {
	if p.store == nil {
		return
	}
	h, err := stores.BeginRun(ctx, p.store, p.report.SessionID, mode)
	if err != nil {
		p.tel.Session.Warning("Install history unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	p.history = h
	p.report.RunID = h.RunID()
	p.tel.Events.Subscribe(h.Record, nil)
	if err := h.RecordFacts(ctx, p.info); err != nil {
		p.tel.Session.Warning("Failed to record system facts", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Pipeline) finishHistory(ctx context.Context, runErr error) {
	if p.history == nil {
		return
	}
	if err := p.history.Finish(context.WithoutCancel(ctx), runErr); err != nil {
		p.tel.Session.Warning("Failed to record run outcome", map[string]interface{}{"error": err.Error()})
	}
	p.history = nil
}

// invoke runs one attempt of ph. A panic inside the phase becomes an
// automation fault so the run still rolls back and closes its history.
func invoke(ctx context.Context, ph phase) (details map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			details = nil
			err = engine.NewAutomationFault(telemetry.StepTitle(ph.name)+" failed unexpectedly", fmt.Errorf("panic: %v", r)).
				WithStep(ph.name)
		}
	}()
	return ph.run(ctx)
}

// skipped is returned by a phase that does not apply to the plan.
type skipped struct {
	reason string
}

func (s *skipped) Error() string {
	return "skipped: " + s.reason
}

func skip(reason string) error {
	return &skipped{reason: reason}
}

// retryable reports whether the pipeline itself should repeat a phase.
func retryable(err error) bool {
	return engine.IsRetryable(err) && !engine.IsDependency(err)
}

// classify turns err into an InstallError tagged with the failing step.
func classify(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil && !engine.IsUserAbort(err) {
		return engine.NewUserAbort("installation cancelled").WithStep(step)
	}
	var ie *engine.InstallError
	if !errors.As(err, &ie) {
		return engine.NewAutomationFault(telemetry.StepTitle(step)+" failed", err).WithStep(step)
	}
	if ie.Step == "" {
		ie.Step = step
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return engine.NewUserAbort("installation cancelled")
	}
}
