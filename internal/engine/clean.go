package engine

import (
	"context"
	"os"
	"sort"

	"github.com/rs/zerolog"
)

// Cleaner removes task outputs. Cleaning is not graph-aware unless
// cascade is requested, so cleaning one task never surprises its
// dependents with missing files.
type Cleaner struct {
	Graph    *Graph
	Arts     *Artifacts
	Runner   *Runner
	Manifest Manifest
	Log      zerolog.Logger
}

// Clean removes the declared targets (or runs the custom clean actions)
// of the named tasks; an empty name list cleans every task. With cascade
// set, each task's transitive dependents are cleaned as well. A clean
// failure is reported but does not stop the remaining tasks.
func (c *Cleaner) Clean(ctx context.Context, names []string, cascade bool) error {
	nodes, err := c.selectNodes(names, cascade)
	if err != nil {
		return err
	}

	var firstErr error
	for _, i := range nodes {
		if err := c.cleanOne(ctx, i); err != nil {
			c.Log.Error().Str("task", c.Graph.Tasks[i].Name).Err(err).Msg("clean failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Cleaner) cleanOne(ctx context.Context, i int) error {
	t := c.Graph.Tasks[i]

	if len(t.CleanActions) > 0 {
		if err := c.Runner.RunActions(ctx, t.Name, t.CleanActions); err != nil {
			return err
		}
	} else if t.Clean {
		for _, target := range t.Targets {
			if _, err := os.Stat(target); err != nil {
				continue // removing a nonexistent artifact is a no-op
			}
			c.Log.Info().Str("task", t.Name).Str("target", target).Msg("removing")
			if err := os.RemoveAll(target); err != nil {
				return err
			}
		}
	} else {
		return nil
	}

	c.Arts.Invalidate(t.Targets...)
	if c.Manifest != nil {
		if err := c.Manifest.Forget(t.Name); err != nil {
			c.Log.Warn().Str("task", t.Name).Err(err).Msg("could not forget build state")
		}
	}
	return nil
}

// selectNodes resolves names (all tasks when empty) plus dependents when
// cascading, ordered so dependents are cleaned before their producers.
func (c *Cleaner) selectNodes(names []string, cascade bool) ([]int, error) {
	seen := make([]bool, len(c.Graph.Tasks))
	var selected []int
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			selected = append(selected, i)
		}
	}

	if len(names) == 0 {
		for i := range c.Graph.Tasks {
			add(i)
		}
	} else {
		for _, name := range names {
			nodes, ok := c.Graph.resolveName(name)
			if !ok {
				return nil, &ConfigError{Msg: "unknown task: " + name}
			}
			for _, i := range nodes {
				add(i)
				if cascade {
					for _, j := range c.Graph.Descendants(i) {
						add(j)
					}
				}
			}
		}
	}

	// reverse topological order: consumers first
	topo := c.Graph.TopoOrder()
	pos := make([]int, len(topo))
	for p, i := range topo {
		pos[i] = p
	}
	ordered := append([]int{}, selected...)
	sort.Slice(ordered, func(a, b int) bool { return pos[ordered[a]] > pos[ordered[b]] })
	return ordered, nil
}
