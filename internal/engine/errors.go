package engine

import (
	"fmt"
	"strings"
)

// ConfigError reports a problem with the task definitions themselves:
// duplicate names, unknown references, ambiguous targets. Nothing runs
// when one is raised.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func duplicateTaskError(name string) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf("duplicate task name: %s", name)}
}

func unknownDependencyError(task, dep string) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf("task %s: task_dep %q does not name a known task", task, dep)}
}

func ambiguousTargetError(target, a, b string) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf("target %s is declared by both %s and %s", target, a, b)}
}

// CycleError reports a dependency cycle. Like ConfigError it is detected
// before any action executes.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Tasks, " -> "))
}

// ActionError wraps the failure of a single action within a task.
type ActionError struct {
	Task   string
	Action string
	Output string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("task %s: action %s: %v", e.Task, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// MissingTargetError is raised when a task's actions all succeed but a
// declared target was not produced.
type MissingTargetError struct {
	Task   string
	Target string
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("task %s: target %s missing after successful actions", e.Task, e.Target)
}

// UpstreamError marks a task that never ran because one of its
// predecessors failed.
type UpstreamError struct {
	Task  string
	Cause string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("task %s: not run, upstream task %s failed", e.Task, e.Cause)
}
