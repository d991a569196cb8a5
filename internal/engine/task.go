package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ActionKind discriminates the two action variants.
type ActionKind int

const (
	// ActionShell spawns an external process.
	ActionShell ActionKind = iota
	// ActionFunc invokes an in-process Go function.
	ActionFunc
)

// Action is one executable step of a task: either a command line or an
// in-process function. Argument handling for shell actions lives here so
// tasks never build command strings by hand.
type Action struct {
	Kind    ActionKind
	Command string
	Args    []string
	Name    string
	Fn      func(ctx context.Context) error
}

// Shell builds a process-spawning action.
func Shell(command string, args ...string) Action {
	return Action{Kind: ActionShell, Command: command, Args: args}
}

// Func builds an in-process action. The name is used for logging and for
// the action signature.
func Func(name string, fn func(ctx context.Context) error) Action {
	return Action{Kind: ActionFunc, Name: name, Fn: fn}
}

func (a Action) String() string {
	if a.Kind == ActionFunc {
		return fmt.Sprintf("func:%s", a.Name)
	}
	if len(a.Args) == 0 {
		return a.Command
	}
	return a.Command + " " + strings.Join(a.Args, " ")
}

// ActionSignature hashes a task's action list. A changed signature means
// the task must re-run even if its inputs look fresh.
func ActionSignature(actions []Action) string {
	h := sha256.New()
	for _, a := range actions {
		fmt.Fprintf(h, "%d\x00%s\x00", a.Kind, a.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Task is a named unit of work with declared inputs, outputs and actions.
type Task struct {
	Name     string
	Doc      string
	Actions  []Action
	Targets  []string
	FileDeps []string
	TaskDeps []string

	// Clean enables default cleaning (removal of Targets). CleanActions,
	// when set, run instead of the default removal.
	Clean        bool
	CleanActions []Action
}

func (t Task) validate() error {
	if t.Name == "" {
		return &ConfigError{Msg: "task with empty name"}
	}
	if len(t.Actions) == 0 {
		return &ConfigError{Msg: fmt.Sprintf("task %s declares no actions", t.Name)}
	}
	for _, a := range t.Actions {
		if err := validateAction(t.Name, a); err != nil {
			return err
		}
	}
	for _, a := range t.CleanActions {
		if err := validateAction(t.Name, a); err != nil {
			return err
		}
	}
	for _, dep := range t.TaskDeps {
		if dep == t.Name {
			return &ConfigError{Msg: fmt.Sprintf("task %s depends on itself", t.Name)}
		}
	}
	for _, p := range append(append([]string{}, t.Targets...), t.FileDeps...) {
		if p == "" {
			return &ConfigError{Msg: fmt.Sprintf("task %s declares an empty path", t.Name)}
		}
	}
	return nil
}

func validateAction(task string, a Action) error {
	switch a.Kind {
	case ActionShell:
		if a.Command == "" {
			return &ConfigError{Msg: fmt.Sprintf("task %s: shell action with empty command", task)}
		}
	case ActionFunc:
		if a.Fn == nil {
			return &ConfigError{Msg: fmt.Sprintf("task %s: func action without function", task)}
		}
	default:
		return &ConfigError{Msg: fmt.Sprintf("task %s: unknown action kind %d", task, a.Kind)}
	}
	return nil
}

// GeneratorFunc produces a family of sub-tasks. It is invoked exactly once
// per run; the sub-task names are prefixed with "<generator>:".
type GeneratorFunc func() ([]Task, error)

type registration struct {
	task      Task
	generator GeneratorFunc
	name      string
}

// Registry is the task definition store. Tasks and generators are
// registered explicitly by the caller; Expand materializes the full task
// set once and memoizes it.
type Registry struct {
	regs     []registration
	names    map[string]bool
	expanded []Task
	done     bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Add registers a static task. Registration fails eagerly on malformed
// tasks and duplicate names.
func (r *Registry) Add(t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	if r.names[t.Name] {
		return duplicateTaskError(t.Name)
	}
	r.names[t.Name] = true
	r.regs = append(r.regs, registration{task: t, name: t.Name})
	return nil
}

// AddGenerator registers a task generator under the given name.
func (r *Registry) AddGenerator(name string, fn GeneratorFunc) error {
	if name == "" {
		return &ConfigError{Msg: "generator with empty name"}
	}
	if fn == nil {
		return &ConfigError{Msg: fmt.Sprintf("generator %s without function", name)}
	}
	if r.names[name] {
		return duplicateTaskError(name)
	}
	r.names[name] = true
	r.regs = append(r.regs, registration{generator: fn, name: name})
	return nil
}

// Expand returns the fully materialized task set in declaration order,
// expanding each generator exactly once. The result is memoized, so
// repeated calls within a run see the identical set.
func (r *Registry) Expand() ([]Task, error) {
	if r.done {
		return r.expanded, nil
	}
	seen := make(map[string]bool)
	var tasks []Task
	for _, reg := range r.regs {
		if reg.generator == nil {
			if seen[reg.task.Name] {
				return nil, duplicateTaskError(reg.task.Name)
			}
			seen[reg.task.Name] = true
			tasks = append(tasks, reg.task)
			continue
		}
		subs, err := reg.generator()
		if err != nil {
			return nil, fmt.Errorf("expanding generator %s: %w", reg.name, err)
		}
		for _, sub := range subs {
			if err := sub.validate(); err != nil {
				return nil, fmt.Errorf("generator %s: %w", reg.name, err)
			}
			sub.Name = reg.name + ":" + sub.Name
			if seen[sub.Name] {
				return nil, duplicateTaskError(sub.Name)
			}
			seen[sub.Name] = true
			tasks = append(tasks, sub)
		}
	}
	r.expanded = tasks
	r.done = true
	return tasks, nil
}
