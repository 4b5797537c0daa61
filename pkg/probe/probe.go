// Package probe detects host capabilities for the installer.
//
// Detection never fails. Each sub-probe (memory, tools, package managers,
// encoding, permissions) degrades to a safe default when it cannot answer.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/runner"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

const (
	// DefaultMemoryGB is reported when every memory probe fails.
	DefaultMemoryGB = 8.0

	// DefaultCPUCores is reported when the CPU count is unavailable.
	DefaultCPUCores = 4

	permissionProbeName = "._nox_permission_test"
)

// DefaultTools are the external tools whose availability is probed.
var DefaultTools = []string{"docker", "git", "node", "npm", "python3", "curl", "ollama"}

// Prober detects a SystemInfo snapshot.
type Prober struct {
	runner       runner.Runner
	log          *telemetry.SessionLogger
	goos         string
	goarch       string
	tools        []string
	memoryProbes []MemoryProbe
	timeout      time.Duration
	getwd        func() (string, error)
	homeDir      func() (string, error)
	getenv       func(string) string
	elevated     func() bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithGOOS overrides the detected operating system.
func WithGOOS(goos string) Option {
	return func(p *Prober) { p.goos = goos }
}

// WithTools replaces the probed tool list.
func WithTools(tools ...string) Option {
	return func(p *Prober) { p.tools = tools }
}

// WithMemoryProbes replaces the ordered memory probe chain.
func WithMemoryProbes(probes ...MemoryProbe) Option {
	return func(p *Prober) { p.memoryProbes = probes }
}

// WithDirs overrides the working and home directory lookups.
func WithDirs(workDir, homeDir string) Option {
	return func(p *Prober) {
		p.getwd = func() (string, error) { return workDir, nil }
		p.homeDir = func() (string, error) { return homeDir, nil }
	}
}

// WithEnv overrides environment lookups.
func WithEnv(getenv func(string) string) Option {
	return func(p *Prober) { p.getenv = getenv }
}

// WithElevation overrides the elevation check.
func WithElevation(fn func() bool) Option {
	return func(p *Prober) { p.elevated = fn }
}

// New creates a Prober for the current host.
func New(r runner.Runner, log *telemetry.SessionLogger, opts ...Option) *Prober {
	p := &Prober{
		runner:   r,
		log:      log,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
		tools:    DefaultTools,
		timeout:  runner.ProbeTimeout,
		getwd:    os.Getwd,
		homeDir:  os.UserHomeDir,
		getenv:   os.Getenv,
		elevated: isElevated,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.memoryProbes == nil {
		p.memoryProbes = p.defaultMemoryProbes()
	}
	return p
}

// Detect produces the SystemInfo snapshot. It never fails.
func (p *Prober) Detect(ctx context.Context) engine.SystemInfo {
	p.log.StepStart("detecting_system", "Detecting system capabilities")

	osType := engine.ParseOSType(p.goos)
	home, err := p.homeDir()
	if err != nil {
		home = ""
	}

	info := engine.SystemInfo{
		OSType:          osType,
		Architecture:    p.goarch,
		RuntimeVersion:  runtime.Version(),
		MemoryGB:        p.detectMemory(ctx),
		CPUCores:        detectCPUCores(),
		HomeDir:         home,
		Tools:           p.detectTools(ctx),
		PackageManagers: p.detectPackageManagers(ctx, osType),
		Encoding:        p.detectEncoding(ctx, osType),
		Permissions:     p.detectPermissions(home),
	}

	p.log.StepComplete("detecting_system", map[string]interface{}{
		"os":               string(info.OSType),
		"architecture":     info.Architecture,
		"memory_gb":        info.MemoryGB,
		"cpu_cores":        info.CPUCores,
		"tools":            info.Tools,
		"package_managers": info.PackageManagers,
		"utf8":             info.Encoding.UTF8,
		"elevated":         info.Permissions.Elevated,
	})

	return info
}

func detectCPUCores() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return DefaultCPUCores
}

// toolAvailable probes "<name> --version" and falls back to a PATH lookup
// when the version probe errors.
func (p *Prober) toolAvailable(ctx context.Context, name string) bool {
	_, err := p.runner.Run(ctx, runner.Command{
		Name:    name,
		Args:    []string{"--version"},
		Timeout: p.timeout,
	})
	if err == nil {
		return true
	}
	_, err = p.runner.LookPath(name)
	return err == nil
}

func (p *Prober) detectTools(ctx context.Context) map[string]bool {
	tools := make(map[string]bool, len(p.tools))
	for _, name := range p.tools {
		tools[name] = p.toolAvailable(ctx, name)
	}
	return tools
}

func (p *Prober) detectPermissions(home string) engine.PermissionSupport {
	perms := engine.PermissionSupport{}

	if wd, err := p.getwd(); err == nil {
		perms.CurrentDirWritable = CanWrite(wd, permissionProbeName)
	}
	if home != "" {
		perms.HomeDirWritable = CanWrite(home, permissionProbeName)
	}

	func() {
		defer func() {
			if recover() != nil {
				perms.Elevated = false
			}
		}()
		perms.Elevated = p.elevated()
	}()

	return perms
}

// CanWrite reports whether a probe file can be created and removed in dir.
func CanWrite(dir, probeName string) bool {
	path := filepath.Join(dir, probeName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return false
	}
	_, werr := f.WriteString("test")
	cerr := f.Close()
	rerr := os.Remove(path)
	return werr == nil && cerr == nil && rerr == nil
}
