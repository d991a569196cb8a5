package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestExecutor(t *testing.T, tasks []Task, workers int) *Executor {
	t.Helper()
	g, err := BuildGraph(tasks)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	arts := NewArtifacts()
	eval := NewEvaluator(arts, nil)
	runner := &Runner{Log: zerolog.Nop()}
	return NewExecutor(g, arts, eval, runner, nil, Options{Workers: workers}, zerolog.Nop())
}

// writeTask produces its single target and counts executions.
func writeTask(name, target string, fileDeps []string, counter *atomic.Int32) Task {
	return Task{
		Name: name,
		Actions: []Action{Func("write "+target, func(ctx context.Context) error {
			counter.Add(1)
			return os.WriteFile(target, []byte(name), 0644)
		})},
		Targets:  []string{target},
		FileDeps: fileDeps,
	}
}

func statusOf(t *testing.T, report *RunReport, name string) TaskResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("task %s not in report", name)
	return TaskResult{}
}

func TestRunIdempotence(t *testing.T) {
	dir := t.TempDir()
	aOut := filepath.Join(dir, "a.out")
	bOut := filepath.Join(dir, "b.out")
	var aCount, bCount atomic.Int32

	tasks := []Task{
		writeTask("a", aOut, nil, &aCount),
		writeTask("b", bOut, []string{aOut}, &bCount),
	}

	report, err := newTestExecutor(t, tasks, 2).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if report.Failed() {
		t.Fatal("first run reported failure")
	}
	if aCount.Load() != 1 || bCount.Load() != 1 {
		t.Fatalf("expected one execution each, got a=%d b=%d", aCount.Load(), bCount.Load())
	}

	report, err = newTestExecutor(t, tasks, 2).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if aCount.Load() != 1 || bCount.Load() != 1 {
		t.Fatalf("second run executed actions, got a=%d b=%d", aCount.Load(), bCount.Load())
	}
	if got := statusOf(t, report, "a").Status; got != StatusSkipped {
		t.Errorf("a should be skipped on second run, got %s", got)
	}
	if got := statusOf(t, report, "b").Status; got != StatusSkipped {
		t.Errorf("b should be skipped on second run, got %s", got)
	}
}

func TestFailurePropagation(t *testing.T) {
	dir := t.TempDir()
	aOut := filepath.Join(dir, "a.out")
	bOut := filepath.Join(dir, "b.out")
	cOut := filepath.Join(dir, "c.out")
	var bCount, cCount atomic.Int32

	tasks := []Task{
		{
			Name: "a",
			Actions: []Action{Func("boom", func(ctx context.Context) error {
				return errors.New("boom")
			})},
			Targets: []string{aOut},
		},
		writeTask("b", bOut, []string{aOut}, &bCount),
		writeTask("c", cOut, nil, &cCount),
	}

	report, err := newTestExecutor(t, tasks, 2).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := statusOf(t, report, "a").Status; got != StatusFailed {
		t.Errorf("a should fail, got %s", got)
	}
	if got := statusOf(t, report, "b").Status; got != StatusFailedUpstream {
		t.Errorf("b should be failed-propagated, got %s", got)
	}
	if bCount.Load() != 0 {
		t.Error("b's actions must not run when its upstream failed")
	}
	var upErr *UpstreamError
	if !errors.As(statusOf(t, report, "b").Err, &upErr) {
		t.Errorf("b should carry an UpstreamError, got %v", statusOf(t, report, "b").Err)
	}
	if got := statusOf(t, report, "c").Status; got != StatusSucceeded {
		t.Errorf("independent c should still succeed, got %s", got)
	}
	if cCount.Load() != 1 {
		t.Error("independent branch did not execute")
	}
	if !report.Failed() {
		t.Error("report should count as failed")
	}
}

func TestMissingTargetFailsTask(t *testing.T) {
	dir := t.TempDir()
	tasks := []Task{
		{
			Name:    "a",
			Actions: []Action{Func("forgets to write", func(ctx context.Context) error { return nil })},
			Targets: []string{filepath.Join(dir, "never.out")},
		},
	}

	report, err := newTestExecutor(t, tasks, 1).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := statusOf(t, report, "a")
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	var mtErr *MissingTargetError
	if !errors.As(res.Err, &mtErr) {
		t.Fatalf("expected MissingTargetError, got %v", res.Err)
	}
}

func TestRunSelectionClosure(t *testing.T) {
	dir := t.TempDir()
	aOut := filepath.Join(dir, "a.out")
	bOut := filepath.Join(dir, "b.out")
	cOut := filepath.Join(dir, "c.out")
	var aCount, bCount, cCount atomic.Int32

	tasks := []Task{
		writeTask("a", aOut, nil, &aCount),
		writeTask("b", bOut, []string{aOut}, &bCount),
		writeTask("c", cOut, nil, &cCount),
	}

	report, err := newTestExecutor(t, tasks, 1).Run(context.Background(), []string{"b"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 tasks in report, got %d", len(report.Results))
	}
	if cCount.Load() != 0 {
		t.Error("unselected task must not run")
	}
	if aCount.Load() != 1 || bCount.Load() != 1 {
		t.Error("selected task and its dependency must run")
	}
}

func TestRunUnknownTask(t *testing.T) {
	dir := t.TempDir()
	var n atomic.Int32
	tasks := []Task{writeTask("a", filepath.Join(dir, "a.out"), nil, &n)}

	_, err := newTestExecutor(t, tasks, 1).Run(context.Background(), []string{"ghost"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unknown task, got %v", err)
	}
	if n.Load() != 0 {
		t.Error("nothing may run on a selection error")
	}
}

func TestGeneratorIncrementalRun(t *testing.T) {
	dir := t.TempDir()
	counters := map[string]*atomic.Int32{}
	entryTasks := func(entries []string) []Task {
		reg := NewRegistry()
		if err := reg.AddGenerator("nb", func() ([]Task, error) {
			var subs []Task
			for _, e := range entries {
				if counters[e] == nil {
					counters[e] = &atomic.Int32{}
				}
				sub := writeTask(e, filepath.Join(dir, e+".html"), nil, counters[e])
				subs = append(subs, sub)
			}
			return subs, nil
		}); err != nil {
			t.Fatalf("AddGenerator failed: %v", err)
		}
		tasks, err := reg.Expand()
		if err != nil {
			t.Fatalf("Expand failed: %v", err)
		}
		return tasks
	}

	report, err := newTestExecutor(t, entryTasks([]string{"one", "two"}), 2).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 sub-tasks, got %d", len(report.Results))
	}

	report, err = newTestExecutor(t, entryTasks([]string{"one", "two", "three"}), 2).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := statusOf(t, report, "nb:one").Status; got != StatusSkipped {
		t.Errorf("nb:one should be skipped, got %s", got)
	}
	if got := statusOf(t, report, "nb:two").Status; got != StatusSkipped {
		t.Errorf("nb:two should be skipped, got %s", got)
	}
	if got := statusOf(t, report, "nb:three").Status; got != StatusSucceeded {
		t.Errorf("nb:three should run, got %s", got)
	}
	if counters["one"].Load() != 1 || counters["two"].Load() != 1 || counters["three"].Load() != 1 {
		t.Error("only the new entry may execute on the second run")
	}
}

func TestCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	var bCount atomic.Int32

	tasks := []Task{
		{
			Name: "a",
			Actions: []Action{Func("block until cancel", func(actx context.Context) error {
				cancel()
				<-actx.Done()
				return actx.Err()
			})},
			Targets: []string{filepath.Join(dir, "a.out")},
		},
		writeTask("b", filepath.Join(dir, "b.out"), []string{filepath.Join(dir, "a.out")}, &bCount),
	}

	report, err := newTestExecutor(t, tasks, 1).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Cancelled() {
		t.Fatal("report should be marked cancelled")
	}
	if got := statusOf(t, report, "a").Status; got != StatusCancelled {
		t.Errorf("in-flight a should be cancelled, got %s", got)
	}
	if got := statusOf(t, report, "b").Status; got != StatusCancelled {
		t.Errorf("never-started b should be cancelled, got %s", got)
	}
	if bCount.Load() != 0 {
		t.Error("b must not run after interruption")
	}
}

func TestListDeterminism(t *testing.T) {
	dir := t.TempDir()
	var n atomic.Int32
	tasks := []Task{
		writeTask("a", filepath.Join(dir, "a.out"), nil, &n),
		writeTask("b", filepath.Join(dir, "b.out"), []string{filepath.Join(dir, "a.out")}, &n),
	}
	g, err := BuildGraph(tasks)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	eval := NewEvaluator(NewArtifacts(), nil)

	first := List(g, eval)
	second := List(g, eval)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("unexpected entry counts: %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("list not deterministic: %+v vs %+v", first[i], second[i])
		}
	}
	if !first[0].Stale || !first[1].Stale {
		t.Error("tasks without outputs on disk should be stale")
	}
}
