package deps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/runner"
)

// StrategyID names an installation method.
type StrategyID string

const (
	StrategyWinget        StrategyID = "winget"
	StrategyChocolatey    StrategyID = "chocolatey"
	StrategyScoop         StrategyID = "scoop"
	StrategyAptGet        StrategyID = "apt-get"
	StrategyApt           StrategyID = "apt"
	StrategyYum           StrategyID = "yum"
	StrategyDnf           StrategyID = "dnf"
	StrategyHomebrew      StrategyID = "homebrew"
	StrategyManual        StrategyID = "manual_download"
	StrategyContainerized StrategyID = "containerized"
)

// ErrStrategyUnsupported is returned when a strategy cannot install a given dependency.
var ErrStrategyUnsupported = errors.New("strategy does not support this dependency")

const aptUpdateTimeout = 60 * time.Second

// Env is what a strategy may use while installing.
type Env struct {
	Runner  runner.Runner
	Info    engine.SystemInfo
	ShimDir string
	Timeout time.Duration
}

// Strategy is one entry of the strategy chain.
type Strategy struct {
	ID StrategyID

	// Applies reports whether the strategy is usable on this host.
	Applies func(info engine.SystemInfo) bool

	// Install attempts to make dep available. A nil error only means the
	// installer claims success; the resolver verifies independently.
	Install func(ctx context.Context, env Env, dep string) error
}

// Package names per manager. Unlisted dependencies use their own name.
var (
	wingetPackages = map[string]string{
		"docker": "Docker.DockerDesktop",
		"git":    "Git.Git",
		"node":   "OpenJS.NodeJS",
		"python": "Python.Python.3.12",
	}
	chocolateyPackages = map[string]string{
		"docker": "docker-desktop",
		"git":    "git",
		"node":   "nodejs",
	}
	linuxPackages = map[string]string{
		"docker": "docker.io",
		"git":    "git",
		"node":   "nodejs",
		"python": "python3",
	}
)

// containerImages lists the image and entry command used to provide a
// dependency through the container runtime.
var containerImages = map[string]struct {
	image string
	entry []string
}{
	"git":    {"alpine/git", nil},
	"node":   {"node:20-alpine", []string{"node"}},
	"npm":    {"node:20-alpine", []string{"npm"}},
	"python": {"python:3.12-alpine", []string{"python"}},
}

func packageName(table map[string]string, dep string) string {
	if name, ok := table[dep]; ok {
		return name
	}
	return dep
}

// linuxManagers are tried in this order; only the first detected one is used.
var linuxManagers = []StrategyID{StrategyAptGet, StrategyApt, StrategyYum, StrategyDnf}

func firstLinuxManager(info engine.SystemInfo) StrategyID {
	for _, id := range linuxManagers {
		if info.HasPackageManager(string(id)) {
			return id
		}
	}
	return ""
}

// DefaultStrategies returns the built-in strategy chain in preference order:
// platform package managers, then manual download, then containerized.
func DefaultStrategies() []Strategy {
	strategies := []Strategy{
		{
			ID:      StrategyWinget,
			Applies: windowsManager("winget"),
			Install: func(ctx context.Context, env Env, dep string) error {
				return run(ctx, env, "winget", "install", packageName(wingetPackages, dep),
					"--accept-package-agreements", "--accept-source-agreements")
			},
		},
		{
			ID:      StrategyChocolatey,
			Applies: windowsManager("chocolatey"),
			Install: func(ctx context.Context, env Env, dep string) error {
				return run(ctx, env, "choco", "install", packageName(chocolateyPackages, dep), "-y")
			},
		},
		{
			ID:      StrategyScoop,
			Applies: windowsManager("scoop"),
			Install: func(ctx context.Context, env Env, dep string) error {
				return run(ctx, env, "scoop", "install", dep)
			},
		},
	}

	for _, id := range linuxManagers {
		strategies = append(strategies, linuxStrategy(id))
	}

	return append(strategies,
		Strategy{
			ID: StrategyHomebrew,
			Applies: func(info engine.SystemInfo) bool {
				return info.OSType == engine.OSMacOS && info.HasPackageManager("homebrew")
			},
			Install: func(ctx context.Context, env Env, dep string) error {
				if dep == "docker" {
					return run(ctx, env, "brew", "install", "--cask", "docker")
				}
				return run(ctx, env, "brew", "install", dep)
			},
		},
		Strategy{
			ID:      StrategyManual,
			Applies: func(engine.SystemInfo) bool { return true },
			Install: installManually,
		},
		Strategy{
			ID:      StrategyContainerized,
			Applies: func(engine.SystemInfo) bool { return true },
			Install: installContainerized,
		},
	)
}

func windowsManager(name string) func(engine.SystemInfo) bool {
	return func(info engine.SystemInfo) bool {
		return info.OSType == engine.OSWindows && info.HasPackageManager(name)
	}
}

func linuxStrategy(id StrategyID) Strategy {
	return Strategy{
		ID: id,
		Applies: func(info engine.SystemInfo) bool {
			return info.OSType == engine.OSLinux && firstLinuxManager(info) == id
		},
		Install: func(ctx context.Context, env Env, dep string) error {
			pkg := packageName(linuxPackages, dep)
			switch id {
			case StrategyAptGet, StrategyApt:
				// A failed index refresh is not fatal; the install may still succeed.
				_, _ = env.Runner.Run(ctx, privileged(env.Info, aptUpdateTimeout, string(id), "update"))
				return runCommand(ctx, env, privileged(env.Info, env.Timeout, string(id), "install", "-y", pkg))
			default:
				return runCommand(ctx, env, privileged(env.Info, env.Timeout, string(id), "install", "-y", pkg))
			}
		},
	}
}

// installManually runs the vendor install script. Only docker on Unix hosts
// ships one.
func installManually(ctx context.Context, env Env, dep string) error {
	if env.Info.OSType == engine.OSWindows || dep != "docker" {
		return ErrStrategyUnsupported
	}
	if _, err := env.Runner.LookPath("curl"); err != nil {
		return fmt.Errorf("manual download needs curl: %w", err)
	}
	return runCommand(ctx, env, privileged(env.Info, env.Timeout,
		"sh", "-c", "curl -fsSL https://get.docker.com | sh"))
}

// installContainerized pulls an image providing dep and writes a shim into
// the shim directory that runs it through the container runtime.
func installContainerized(ctx context.Context, env Env, dep string) error {
	spec, ok := containerImages[dep]
	if !ok || env.ShimDir == "" {
		return ErrStrategyUnsupported
	}
	if _, err := env.Runner.LookPath("docker"); err != nil {
		return fmt.Errorf("containerized install needs docker: %w", err)
	}
	if err := run(ctx, env, "docker", "pull", spec.image); err != nil {
		return err
	}

	if err := os.MkdirAll(env.ShimDir, 0o755); err != nil {
		return fmt.Errorf("failed to create shim directory: %w", err)
	}
	path := ShimPath(env.ShimDir, dep, env.Info.OSType)
	content := shimScript(env.Info.OSType, spec.image, spec.entry)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("failed to write shim %s: %w", path, err)
	}
	return nil
}

// ShimPath returns where the containerized shim for dep lives.
func ShimPath(dir, dep string, osType engine.OSType) string {
	if osType == engine.OSWindows {
		return filepath.Join(dir, dep+".cmd")
	}
	return filepath.Join(dir, dep)
}

func shimScript(osType engine.OSType, image string, entry []string) string {
	args := strings.TrimSpace(image + " " + strings.Join(entry, " "))
	if osType == engine.OSWindows {
		return "@echo off\r\ndocker run --rm -i -v \"%CD%\":/work -w /work " + args + " %*\r\n"
	}
	return "#!/bin/sh\nexec docker run --rm -i -v \"$PWD\":/work -w /work " + args + " \"$@\"\n"
}

// privileged prefixes sudo on Unix when not already elevated.
func privileged(info engine.SystemInfo, timeout time.Duration, name string, args ...string) runner.Command {
	if info.OSType != engine.OSWindows && !info.Permissions.Elevated {
		return runner.Command{Name: "sudo", Args: append([]string{name}, args...), Timeout: timeout}
	}
	return runner.Command{Name: name, Args: args, Timeout: timeout}
}

func run(ctx context.Context, env Env, name string, args ...string) error {
	return runCommand(ctx, env, runner.Command{Name: name, Args: args, Timeout: env.Timeout})
}

func runCommand(ctx context.Context, env Env, cmd runner.Command) error {
	_, err := env.Runner.Run(ctx, cmd)
	return err
}

// orderStrategies filters the chain to those applying on this host and
// moves the containerized strategy to the front when preferred.
func orderStrategies(all []Strategy, info engine.SystemInfo, preferContainerized bool) []Strategy {
	applicable := make([]Strategy, 0, len(all))
	var containerized []Strategy
	for _, s := range all {
		if s.Applies != nil && !s.Applies(info) {
			continue
		}
		if preferContainerized && s.ID == StrategyContainerized {
			containerized = append(containerized, s)
			continue
		}
		applicable = append(applicable, s)
	}
	return append(containerized, applicable...)
}
