package engine

import (
	"fmt"
	"time"
)

// Manifest is the optional persisted build state consulted on top of
// mtimes: the content fingerprint of each file dep and the signature of
// the action list at the last successful build. A nil Manifest means
// staleness is decided by timestamps alone.
type Manifest interface {
	TaskState(name string) (actionSig string, deps map[string]string, ok bool, err error)
	RecordTask(name, actionSig string, deps map[string]string) error
	Forget(name string) error
}

// Verdict is one task's staleness decision with the deciding reason.
type Verdict struct {
	Stale  bool
	Reason string
}

// Evaluator decides whether a task's outputs are current relative to its
// inputs.
type Evaluator struct {
	arts     *Artifacts
	manifest Manifest
}

func NewEvaluator(arts *Artifacts, manifest Manifest) *Evaluator {
	return &Evaluator{arts: arts, manifest: manifest}
}

// Evaluate returns the verdict for node i. ran marks tasks already
// executed during this invocation: any executed upstream task forces a
// re-run regardless of timestamps. ran may be nil for a read-only pass
// such as `list`.
func (e *Evaluator) Evaluate(g *Graph, i int, ran []bool) Verdict {
	t := g.Tasks[i]

	if len(t.Targets) == 0 {
		return Verdict{Stale: true, Reason: "no targets declared, runs every time"}
	}

	if ran != nil {
		for _, j := range g.Preds(i) {
			if ran[j] {
				return Verdict{Stale: true, Reason: fmt.Sprintf("upstream task %s re-ran", g.Tasks[j].Name)}
			}
		}
	}

	oldest := time.Time{}
	for _, target := range t.Targets {
		info := e.arts.Stat(target)
		if !info.Exists {
			return Verdict{Stale: true, Reason: fmt.Sprintf("target %s missing", target)}
		}
		if oldest.IsZero() || info.ModTime.Before(oldest) {
			oldest = info.ModTime
		}
	}

	for _, dep := range t.FileDeps {
		info := e.arts.Stat(dep)
		if !info.Exists {
			return Verdict{Stale: true, Reason: fmt.Sprintf("dependency %s missing", dep)}
		}
		if info.ModTime.After(oldest) {
			return Verdict{Stale: true, Reason: fmt.Sprintf("dependency %s newer than targets", dep)}
		}
	}

	if e.manifest != nil {
		if v, decided := e.manifestVerdict(t); decided {
			return v
		}
	}

	return Verdict{Stale: false, Reason: "up to date"}
}

// manifestVerdict compares recorded fingerprints against the current
// inputs. A fingerprint match can never override missing targets, only
// flag stale work that mtimes alone would miss.
func (e *Evaluator) manifestVerdict(t Task) (Verdict, bool) {
	sig, deps, ok, err := e.manifest.TaskState(t.Name)
	if err != nil || !ok {
		// no recorded state: fall back to the timestamp decision
		return Verdict{}, false
	}
	if sig != ActionSignature(t.Actions) {
		return Verdict{Stale: true, Reason: "action list changed since last build"}, true
	}
	for _, dep := range t.FileDeps {
		if fp := FileFingerprint(dep); fp != "" && fp != deps[dep] {
			return Verdict{Stale: true, Reason: fmt.Sprintf("dependency %s content changed", dep)}, true
		}
	}
	return Verdict{}, false
}
