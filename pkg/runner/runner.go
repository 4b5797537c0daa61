// Package runner executes external tools as argv plus a wall-clock timeout.
//
// Package managers, container runtimes and version-control clients are all
// treated as opaque processes: stdout and stderr are captured, the exit code
// is inspected, and a timeout is an ordinary failure rather than a crash.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// Default timeouts for external tool invocations.
const (
	ProbeTimeout   = 10 * time.Second
	InstallTimeout = 300 * time.Second
	CloneTimeout   = 60 * time.Second
)

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
	Dir     string
	Env     map[string]string
}

// String renders the command line.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// CommandError reports a process that could not start, exited non-zero, or timed out.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", e.Command)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	default:
		msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + firstLine(s)
		}
		return msg
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner runs external processes.
type Runner interface {
	// Run executes cmd and returns its captured result. The result is never
	// nil; err is a *CommandError when the process did not exit cleanly.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath resolves an executable name on PATH.
	LookPath(name string) (string, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// LookPath implements Runner.
func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return &Result{ExitCode: -1}, &CommandError{Command: "<empty>", ExitCode: -1, Err: errors.New("command is required")}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   telemetry.SafeDecode(stdout.Bytes()),
		Stderr:   telemetry.SafeDecode(stderr.Bytes()),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	cerr := &CommandError{Command: c.String(), Stderr: result.Stderr, ExitCode: -1}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		cerr.TimedOut = true
		cerr.Err = context.DeadlineExceeded
		return result, cerr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		cerr.ExitCode = result.ExitCode
		return result, cerr
	}

	result.ExitCode = -1
	cerr.Err = err
	return result, cerr
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
