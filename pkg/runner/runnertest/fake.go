// Package runnertest provides an in-memory runner.Runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/noxsuite/noxinstall/pkg/runner"
)

// FakeHandler produces the outcome of a faked command.
type FakeHandler func(cmd runner.Command) (*runner.Result, error)

// Fake is an in-memory runner.Runner. Commands are matched against
// registered handlers by their longest "name arg0 arg1 ..." prefix.
type Fake struct {
	mu       sync.Mutex
	paths    map[string]string
	handlers map[string]FakeHandler
	calls    []runner.Command
}

// NewFake returns a fake runner where the given tools resolve on PATH and
// answer every command with exit code 0.
func NewFake(available ...string) *Fake {
	f := &Fake{
		paths:    make(map[string]string),
		handlers: make(map[string]FakeHandler),
	}
	for _, name := range available {
		f.paths[name] = "/usr/bin/" + name
	}
	return f
}

// SetAvailable adds or removes a tool from the fake PATH.
func (f *Fake) SetAvailable(name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.paths[name] = "/usr/bin/" + name
	} else {
		delete(f.paths, name)
	}
}

// On registers a handler for commands starting with the given words.
func (f *Fake) On(prefix string, h FakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
}

// OnOutput registers a handler that prints stdout and exits 0.
func (f *Fake) OnOutput(prefix, stdout string) {
	f.On(prefix, func(runner.Command) (*runner.Result, error) {
		return &runner.Result{Stdout: stdout}, nil
	})
}

// OnFail registers a handler that exits with the given code.
func (f *Fake) OnFail(prefix string, code int) {
	f.On(prefix, func(c runner.Command) (*runner.Result, error) {
		return &runner.Result{ExitCode: code}, &runner.CommandError{Command: c.String(), ExitCode: code}
	})
}

// Calls returns every command run so far.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Ran reports whether a command starting with prefix was run.
func (f *Fake) Ran(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return true
		}
	}
	return false
}

// LookPath implements runner.Runner.
func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Run implements runner.Runner.
func (f *Fake) Run(ctx context.Context, c runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	h := f.match(c)
	_, onPath := f.paths[c.Name]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &runner.Result{ExitCode: -1}, &runner.CommandError{Command: c.String(), ExitCode: -1, Err: err}
	}
	if h != nil {
		res, err := h(c)
		if res == nil {
			res = &runner.Result{}
		}
		return res, err
	}
	if !onPath {
		return &runner.Result{ExitCode: -1}, &runner.CommandError{
			Command:  c.String(),
			ExitCode: -1,
			Err:      fmt.Errorf("exec: %q: %w", c.Name, exec.ErrNotFound),
		}
	}
	return &runner.Result{}, nil
}

func (f *Fake) match(c runner.Command) FakeHandler {
	words := append([]string{c.Name}, c.Args...)
	for n := len(words); n > 0; n-- {
		if h, ok := f.handlers[strings.Join(words[:n], " ")]; ok {
			return h
		}
	}
	return nil
}
