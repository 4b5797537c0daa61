package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noxsuite/noxinstall/pkg/audit"
	"github.com/noxsuite/noxinstall/pkg/config"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/pipeline"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/probe"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/stores"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
	"github.com/noxsuite/noxinstall/pkg/ux"
	"github.com/noxsuite/noxinstall/pkg/validate"
	"github.com/noxsuite/noxinstall/pkg/wizard"
)

// historyOff disables the install history from the command line.
const historyOff = "off"

// environment is the wiring shared by the commands of one invocation.
type environment struct {
	opts     *globalOptions
	settings *config.Settings
	tel      *telemetry.Telemetry
	run      runner.Runner
	term     *ux.Terminal
}

// loadSettings reads the settings file and applies flag overrides.
func loadSettings(opts *globalOptions) (*config.Settings, error) {
	s, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logFile != "" {
		s.LogFile = opts.logFile
	}
	switch opts.historyDB {
	case "":
	case historyOff:
		s.HistoryDB = ""
	default:
		s.HistoryDB = opts.historyDB
	}
	if opts.traceExporter != "" {
		s.Tracing.Exporter = opts.traceExporter
	}
	if opts.nonInteractive {
		s.NonInteractive = true
	}
	if opts.assumeYes {
		s.AssumeYes = true
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// telemetryConfig maps installer settings onto the telemetry stack.
func telemetryConfig(s *config.Settings, version string, ascii bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.File = s.LogFile
	cfg.Logging.Level = s.LogLevel
	cfg.Logging.ASCIISymbols = ascii
	cfg.Tracing.Enabled = s.Tracing.Exporter != "none"
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Metrics.TextfileName = s.MetricsTextfile
	if s.Monitor.MetricsAddr != "" {
		cfg.Metrics.ListenAddress = s.Monitor.MetricsAddr
	}
	return cfg
}

func newEnvironment(opts *globalOptions, version string) (*environment, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	return buildEnvironment(opts, settings, version)
}

func buildEnvironment(opts *globalOptions, settings *config.Settings, version string) (*environment, error) {
	tel, err := telemetry.NewTelemetry(telemetryConfig(settings, version, opts.ascii), opts.stdout)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to initialize telemetry", err)
	}
	return &environment{
		opts:     opts,
		settings: settings,
		tel:      tel,
		run:      runner.NewExecRunner(),
		term:     ux.NewTerminal(opts.stdout, opts.ascii),
	}, nil
}

// close flushes traces and closes the session log.
func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func (e *environment) decider() engine.Decider {
	return ux.SelectDecider(e.opts.stdin, e.opts.stdout, e.settings.NonInteractive, e.settings.AssumeYes)
}

// detect probes the host and switches to ASCII output when the console
// cannot show Unicode.
func (e *environment) detect(ctx context.Context) engine.SystemInfo {
	info := probe.New(e.run, e.tel.Session).Detect(ctx)
	if !info.Encoding.UTF8 {
		e.tel.Session.SetASCII(true)
		e.term.SetASCII(true)
	}
	return info
}

// history opens the install history for a run in mode. A nil store means
// history is disabled, unavailable, or the run is a dry run, which must not
// create the database; history problems never stop an installation.
func (e *environment) history(ctx context.Context, mode engine.InstallMode) *stores.SQLiteStore {
	if e.settings.HistoryDB == "" || mode == engine.ModeDryRun {
		return nil
	}
	store, err := stores.Open(ctx, e.settings.HistoryDB)
	if err != nil {
		e.tel.Session.Warning("Install history unavailable: "+err.Error(), map[string]interface{}{
			"path": e.settings.HistoryDB,
		})
		return nil
	}
	return store
}

// policies loads the built-in plan policies plus any from the policy dir.
func (e *environment) policies(ctx context.Context) *policy.Engine {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("Plan policies unavailable")
		return nil
	}
	if e.settings.PolicyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{e.settings.PolicyDir}); err != nil {
			e.tel.Session.Warning("Ignoring custom policies: "+err.Error(), nil)
		}
	}
	return eng
}

// analyzeLog audits a session log.
func analyzeLog(settings *config.Settings, path string) *audit.Analysis {
	issues := audit.KnownIssuesOrDefault(settings.KnownIssuesFile)
	analysis, err := audit.New(issues).Analyze(path)
	if err != nil {
		log.Warn().Err(err).Str("log", path).Msg("Failed to analyze previous session log")
		return audit.NewAnalysis()
	}
	return analysis
}

// installation loads the summary of the installation the command targets.
func (e *environment) installation(info engine.SystemInfo) (*pipeline.Summary, error) {
	dir := e.opts.installDir
	if dir == "" {
		dir = wizard.DefaultInstallDirectory(info)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid installation directory %q", dir), err)
	}
	s, err := pipeline.LoadSummary(abs)
	if err != nil {
		return nil, err
	}
	s.Configuration.InstallDirectory = abs
	return s, nil
}

func (e *environment) validator(s *pipeline.Summary, info engine.SystemInfo, services bool, opts ...validate.Option) *validate.Validator {
	opts = append([]validate.Option{validate.WithServiceCheck(services)}, opts...)
	return validate.New(s.Configuration, info, config.NewSchemaRegistry(), e.run, e.tel, opts...)
}

// watchPolicies hot-reloads the operator policies of dir into eng and calls
// recheck after every successful reload. A failed reload keeps the previous
// policies and is logged as a warning.
func watchPolicies(ctx context.Context, eng *policy.Engine, dir string, tel *telemetry.Telemetry, recheck func()) error {
	return eng.Watch(ctx, []string{dir}, func(custom int, err error) {
		if err != nil {
			tel.Session.Warning("Policy reload failed: "+err.Error(), map[string]interface{}{"dir": dir})
			return
		}
		tel.Session.Info(fmt.Sprintf("Reloaded %d custom policies", custom), map[string]interface{}{
			"dir":      dir,
			"policies": eng.Names(),
		})
		recheck()
	})
}
