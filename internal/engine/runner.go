package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// Runner executes the actions of a single task, strictly in declared
// order, aborting the remainder on the first failure. Side effects are
// the action's business; the runner only sequences and reports.
type Runner struct {
	// Verbose streams action output live; otherwise output is captured
	// and surfaced only on failure.
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Dir     string
	Env     []string
	Log     zerolog.Logger
}

// RunActions executes the task's actions in order. The returned output
// is the captured combined stream of the failing action, empty on
// success.
func (r *Runner) RunActions(ctx context.Context, task string, actions []Action) error {
	for _, a := range actions {
		r.Log.Debug().Str("task", task).Str("action", a.String()).Msg("running action")
		output, err := r.runOne(ctx, a)
		if err != nil {
			return &ActionError{Task: task, Action: a.String(), Output: output, Err: err}
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, a Action) (output string, err error) {
	switch a.Kind {
	case ActionFunc:
		return "", r.callFunc(ctx, a)
	case ActionShell:
		return r.runShell(ctx, a)
	}
	return "", fmt.Errorf("unknown action kind %d", a.Kind)
}

// callFunc invokes an in-process action, converting a panic into an
// ordinary action failure.
func (r *Runner) callFunc(ctx context.Context, a Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return a.Fn(ctx)
}

func (r *Runner) runShell(ctx context.Context, a Action) (string, error) {
	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var buf bytes.Buffer
	if r.Verbose {
		out, errW := r.Stdout, r.Stderr
		if out == nil {
			out = os.Stdout
		}
		if errW == nil {
			errW = os.Stderr
		}
		cmd.Stdout = io.MultiWriter(out, &buf)
		cmd.Stderr = io.MultiWriter(errW, &buf)
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}

	if err := cmd.Run(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			return buf.String(), fmt.Errorf("exit status %d", exit.ExitCode())
		}
		return buf.String(), err
	}
	return "", nil
}
