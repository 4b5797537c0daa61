package engine

import "context"

// Decider answers questions on behalf of the user.
// Interactive runs back it with a prompt; unattended runs use a FixedDecider.
type Decider interface {
	// Confirm asks a yes/no question. defaultYes is the answer used when the
	// user just presses enter or when no user is present.
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)

	// Ask requests free text. def is returned when the answer is empty.
	Ask(ctx context.Context, prompt, def string) (string, error)
}

// FixedDecider answers every question without user input.
// Confirmations return the question's default unless AssumeYes is set.
type FixedDecider struct {
	AssumeYes bool
}

// Confirm implements Decider.
func (d FixedDecider) Confirm(ctx context.Context, _ string, defaultYes bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, NewUserAbort("cancelled")
	}
	return d.AssumeYes || defaultYes, nil
}

// Ask implements Decider.
func (d FixedDecider) Ask(ctx context.Context, _ string, def string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewUserAbort("cancelled")
	}
	return def, nil
}

// ScriptedDecider replays a fixed list of answers. Confirm consumes entries
// from Confirms and Ask from Answers; once a list is exhausted the defaults apply.
type ScriptedDecider struct {
	Confirms []bool
	Answers  []string
}

// Confirm implements Decider.
func (d *ScriptedDecider) Confirm(_ context.Context, _ string, defaultYes bool) (bool, error) {
	if len(d.Confirms) == 0 {
		return defaultYes, nil
	}
	v := d.Confirms[0]
	d.Confirms = d.Confirms[1:]
	return v, nil
}

// Ask implements Decider.
func (d *ScriptedDecider) Ask(_ context.Context, _ string, def string) (string, error) {
	if len(d.Answers) == 0 {
		return def, nil
	}
	v := d.Answers[0]
	d.Answers = d.Answers[1:]
	if v == "" {
		return def, nil
	}
	return v, nil
}
