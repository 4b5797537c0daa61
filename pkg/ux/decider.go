package ux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// SelectDecider picks how questions are answered. assumeYes and
// nonInteractive never prompt; a terminal on in gets interactive forms and
// anything else is read line by line.
func SelectDecider(in *os.File, out io.Writer, nonInteractive, assumeYes bool) engine.Decider {
	switch {
	case assumeYes:
		return engine.FixedDecider{AssumeYes: true}
	case nonInteractive:
		return engine.FixedDecider{}
	case isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()):
		return &PromptDecider{in: in, out: out}
	default:
		return NewLineDecider(in, out)
	}
}

// PromptDecider asks through interactive terminal forms.
type PromptDecider struct {
	in  io.Reader
	out io.Writer

	// Accessible renders plain prompts for screen readers.
	Accessible bool
}

// NewPromptDecider creates a PromptDecider on the given streams.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: in, out: out}
}

// Confirm implements engine.Decider.
func (d *PromptDecider) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	answer := defaultYes
	field := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&answer)
	if err := d.run(ctx, field); err != nil {
		return false, err
	}
	return answer, nil
}

// Ask implements engine.Decider.
func (d *PromptDecider) Ask(ctx context.Context, prompt, def string) (string, error) {
	var answer string
	field := huh.NewInput().
		Title(prompt).
		Placeholder(def).
		Value(&answer)
	if err := d.run(ctx, field); err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return def, nil
	}
	return strings.TrimSpace(answer), nil
}

func (d *PromptDecider) run(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).
		WithInput(d.in).
		WithOutput(d.out).
		WithAccessible(d.Accessible)
	err := form.RunWithContext(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, huh.ErrUserAborted), errors.Is(err, context.Canceled):
		return engine.NewUserAbort("installation cancelled by user")
	default:
		return engine.NewAutomationFault("prompt failed", err)
	}
}

// LineDecider reads answers line by line. It serves piped input.
type LineDecider struct {
	lines chan lineResult
	out   io.Writer
}

type lineResult struct {
	text string
	err  error
}

// NewLineDecider starts reading lines from in.
func NewLineDecider(in io.Reader, out io.Writer) *LineDecider {
	d := &LineDecider{lines: make(chan lineResult), out: out}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			d.lines <- lineResult{text: sc.Text()}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		for {
			d.lines <- lineResult{err: err}
		}
	}()
	return d
}

// Confirm implements engine.Decider. Unrecognized answers are asked again.
func (d *LineDecider) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(d.out, "%s %s ", question, hint)
		line, err := d.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return defaultYes, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(d.out, "Please answer yes or no.")
	}
}

// Ask implements engine.Decider.
func (d *LineDecider) Ask(ctx context.Context, prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(d.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(d.out, "%s: ", prompt)
	}
	line, err := d.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return def, nil
		}
		return "", err
	}
	if v := strings.TrimSpace(line); v != "" {
		return v, nil
	}
	return def, nil
}

func (d *LineDecider) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", engine.NewUserAbort("installation cancelled by user")
	case r := <-d.lines:
		return r.text, r.err
	}
}
