package engine

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status is a task's position in the execution state machine.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusSkipped
	StatusFailed
	StatusFailedUpstream
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusFailedUpstream:
		return "failed-propagated"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// TaskResult is the terminal state of one task after a run.
type TaskResult struct {
	Name     string
	Status   Status
	Reason   string
	Err      error
	Output   string
	Duration time.Duration
}

// RunReport summarizes one invocation, tasks in topological order.
type RunReport struct {
	Results []TaskResult
	Elapsed time.Duration
}

// Failed reports whether any task ended failed or failed-propagated.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusFailedUpstream {
			return true
		}
	}
	return false
}

// Cancelled reports whether any task was cut short by interruption.
func (r *RunReport) Cancelled() bool {
	for _, res := range r.Results {
		if res.Status == StatusCancelled {
			return true
		}
	}
	return false
}

// Options tune one executor instance.
type Options struct {
	// Workers bounds the pool; zero means one worker per CPU.
	Workers int
	// Grace is how long in-flight actions may keep running after an
	// interrupt before their context is cancelled.
	Grace time.Duration
}

// Executor walks the graph in dependency order, skips fresh tasks, and
// runs stale ones on a bounded worker pool. Independent subgraphs run in
// parallel; a task is only dispatched once every predecessor resolved.
type Executor struct {
	graph    *Graph
	arts     *Artifacts
	eval     *Evaluator
	runner   *Runner
	manifest Manifest
	opts     Options
	log      zerolog.Logger
}

func NewExecutor(g *Graph, arts *Artifacts, eval *Evaluator, runner *Runner, manifest Manifest, opts Options, log zerolog.Logger) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Executor{graph: g, arts: arts, eval: eval, runner: runner, manifest: manifest, opts: opts, log: log}
}

type completion struct {
	node   int
	result TaskResult
}

// Run executes the named tasks and their dependency closures; an empty
// name list selects every task. All task-state bookkeeping happens on
// the dispatching goroutine, so workers never share mutable state.
func (x *Executor) Run(ctx context.Context, names []string) (*RunReport, error) {
	started := time.Now()

	inClosure, err := x.selectClosure(names)
	if err != nil {
		return nil, err
	}

	topo := x.graph.TopoOrder()
	topoPos := make([]int, len(topo))
	for pos, i := range topo {
		topoPos[i] = pos
	}

	status := make([]Status, len(x.graph.Tasks))
	results := make([]TaskResult, len(x.graph.Tasks))
	ran := make([]bool, len(x.graph.Tasks))

	remaining := 0
	indeg := make([]int, len(x.graph.Tasks))
	for i := range x.graph.Tasks {
		if !inClosure[i] {
			continue
		}
		remaining++
		for _, j := range x.graph.Preds(i) {
			if inClosure[j] {
				indeg[i]++
			}
		}
	}

	var eligible []int
	for i := range x.graph.Tasks {
		if inClosure[i] && indeg[i] == 0 {
			eligible = append(eligible, i)
		}
	}
	sortByPos := func() {
		sort.Slice(eligible, func(a, b int) bool { return topoPos[eligible[a]] < topoPos[eligible[b]] })
	}
	sortByPos()

	readyCh := make(chan int)
	doneCh := make(chan completion)

	actionCtx, stopActions := graceContext(ctx, x.opts.Grace)
	defer stopActions()

	var workers errgroup.Group
	for w := 0; w < x.opts.Workers; w++ {
		workers.Go(func() error {
			for i := range readyCh {
				doneCh <- completion{node: i, result: x.runTask(actionCtx, i)}
			}
			return nil
		})
	}

	release := func(i int) {
		for _, j := range x.graph.Succs(i) {
			if inClosure[j] && status[j] == StatusPending {
				indeg[j]--
				if indeg[j] == 0 {
					eligible = append(eligible, j)
				}
			}
		}
		sortByPos()
	}

	finish := func(i int, res TaskResult) {
		status[i] = res.Status
		results[i] = res
		remaining--
	}

	propagate := func(i int) {
		cause := x.graph.Tasks[i].Name
		for _, j := range x.graph.Descendants(i) {
			if inClosure[j] && status[j] == StatusPending {
				finish(j, TaskResult{
					Name:   x.graph.Tasks[j].Name,
					Status: StatusFailedUpstream,
					Err:    &UpstreamError{Task: x.graph.Tasks[j].Name, Cause: cause},
				})
			}
		}
	}

	handleDone := func(c completion) {
		finish(c.node, c.result)
		switch c.result.Status {
		case StatusSucceeded:
			ran[c.node] = true
			release(c.node)
		case StatusFailed:
			propagate(c.node)
		}
	}

	cancelled := false
	cancelPending := func() {
		for i := range x.graph.Tasks {
			if inClosure[i] && status[i] == StatusPending {
				finish(i, TaskResult{Name: x.graph.Tasks[i].Name, Status: StatusCancelled})
			}
		}
		eligible = nil
	}

	for remaining > 0 {
		if cancelled {
			// only in-flight tasks are left; collect them
			handleDone(<-doneCh)
			continue
		}
		if len(eligible) > 0 {
			i := eligible[0]

			// freshness may have changed as upstream tasks completed,
			// so the verdict is taken at dequeue time
			verdict := x.eval.Evaluate(x.graph, i, ran)
			if !verdict.Stale {
				eligible = eligible[1:]
				x.log.Debug().Str("task", x.graph.Tasks[i].Name).Str("reason", verdict.Reason).Msg("up to date")
				finish(i, TaskResult{Name: x.graph.Tasks[i].Name, Status: StatusSkipped, Reason: verdict.Reason})
				release(i)
				continue
			}

			select {
			case readyCh <- i:
				eligible = eligible[1:]
				status[i] = StatusRunning
				x.log.Info().Str("task", x.graph.Tasks[i].Name).Str("reason", verdict.Reason).Msg("running")
			case c := <-doneCh:
				handleDone(c)
			case <-ctx.Done():
				cancelled = true
				cancelPending()
			}
			continue
		}

		select {
		case c := <-doneCh:
			handleDone(c)
		case <-ctx.Done():
			cancelled = true
			cancelPending()
		}
	}

	close(readyCh)
	_ = workers.Wait()

	report := &RunReport{Elapsed: time.Since(started)}
	for _, i := range topo {
		if inClosure[i] {
			report.Results = append(report.Results, results[i])
		}
	}
	return report, nil
}

// runTask executes one stale task's actions and verifies its targets.
func (x *Executor) runTask(ctx context.Context, i int) TaskResult {
	t := x.graph.Tasks[i]
	started := time.Now()

	if err := x.runner.RunActions(ctx, t.Name, t.Actions); err != nil {
		res := TaskResult{Name: t.Name, Status: StatusFailed, Err: err, Duration: time.Since(started)}
		if ae, ok := err.(*ActionError); ok {
			res.Output = ae.Output
		}
		if ctx.Err() != nil {
			res.Status = StatusCancelled
		}
		x.log.Error().Str("task", t.Name).Err(err).Msg("task failed")
		return res
	}

	// the actions are expected to have rewritten the targets
	x.arts.Invalidate(t.Targets...)
	for _, target := range t.Targets {
		if !x.arts.Stat(target).Exists {
			err := &MissingTargetError{Task: t.Name, Target: target}
			x.log.Error().Str("task", t.Name).Err(err).Msg("task failed")
			return TaskResult{Name: t.Name, Status: StatusFailed, Err: err, Duration: time.Since(started)}
		}
	}

	if x.manifest != nil {
		deps := make(map[string]string, len(t.FileDeps))
		for _, dep := range t.FileDeps {
			deps[dep] = FileFingerprint(dep)
		}
		if err := x.manifest.RecordTask(t.Name, ActionSignature(t.Actions), deps); err != nil {
			x.log.Warn().Str("task", t.Name).Err(err).Msg("could not record build state")
		}
	}

	dur := time.Since(started)
	x.log.Info().Str("task", t.Name).Dur("elapsed", dur).Msg("task succeeded")
	return TaskResult{Name: t.Name, Status: StatusSucceeded, Duration: dur}
}

// selectClosure resolves the requested task names to a membership set
// including their transitive dependencies. Generator names select every
// expanded sub-task.
func (x *Executor) selectClosure(names []string) ([]bool, error) {
	if len(names) == 0 {
		all := make([]bool, len(x.graph.Tasks))
		for i := range all {
			all[i] = true
		}
		return all, nil
	}
	var selected []int
	for _, name := range names {
		nodes, ok := x.graph.resolveName(name)
		if !ok {
			return nil, &ConfigError{Msg: "unknown task: " + name}
		}
		selected = append(selected, nodes...)
	}
	return x.graph.Closure(selected), nil
}

// graceContext returns a context for action execution that outlives the
// parent's cancellation by the given grace period, letting in-flight
// actions finish before being killed.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	if grace <= 0 {
		return context.WithCancel(parent)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(parent, func() {
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
