package engine

import (
	"sort"
	"strings"
)

// Graph is the resolved dependency graph over a fully expanded task set.
// Node identity is the task's position in declaration order.
type Graph struct {
	Tasks []Task

	index map[string]int
	owner map[string]int // target path -> producing task
	preds [][]int
	succs [][]int

	// external file deps per task: paths no task declares as a target,
	// whose staleness comes purely from the filesystem.
	external [][]string
}

// BuildGraph resolves file and task dependencies into adjacency lists,
// rejects ambiguous targets and unknown references, and verifies the
// graph is acyclic. It runs before anything executes.
func BuildGraph(tasks []Task) (*Graph, error) {
	g := &Graph{
		Tasks:    tasks,
		index:    make(map[string]int, len(tasks)),
		owner:    make(map[string]int),
		preds:    make([][]int, len(tasks)),
		succs:    make([][]int, len(tasks)),
		external: make([][]string, len(tasks)),
	}
	for i, t := range tasks {
		if _, ok := g.index[t.Name]; ok {
			return nil, duplicateTaskError(t.Name)
		}
		g.index[t.Name] = i
	}
	for i, t := range tasks {
		for _, target := range t.Targets {
			if j, ok := g.owner[target]; ok {
				return nil, ambiguousTargetError(target, tasks[j].Name, t.Name)
			}
			g.owner[target] = i
		}
	}

	edges := make([]map[int]bool, len(tasks))
	for i := range edges {
		edges[i] = make(map[int]bool)
	}
	for i, t := range tasks {
		for _, dep := range t.FileDeps {
			if j, ok := g.owner[dep]; ok {
				if j == i {
					return nil, &ConfigError{Msg: "task " + t.Name + " depends on its own target " + dep}
				}
				edges[i][j] = true
				continue
			}
			g.external[i] = append(g.external[i], dep)
		}
		for _, dep := range t.TaskDeps {
			js, ok := g.resolveName(dep)
			if !ok {
				return nil, unknownDependencyError(t.Name, dep)
			}
			for _, j := range js {
				if j != i {
					edges[i][j] = true
				}
			}
		}
	}

	for i, m := range edges {
		for j := range m {
			g.preds[i] = append(g.preds[i], j)
			g.succs[j] = append(g.succs[j], i)
		}
	}
	for i := range tasks {
		sort.Ints(g.preds[i])
		sort.Ints(g.succs[i])
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// resolveName maps a task name to node indices. A generator's bare name
// resolves to all of its expanded sub-tasks.
func (g *Graph) resolveName(name string) ([]int, bool) {
	if i, ok := g.index[name]; ok {
		return []int{i}, true
	}
	var out []int
	prefix := name + ":"
	for i, t := range g.Tasks {
		if strings.HasPrefix(t.Name, prefix) {
			out = append(out, i)
		}
	}
	return out, len(out) > 0
}

// Lookup returns the node index for an exact task name.
func (g *Graph) Lookup(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Preds returns the direct predecessors of node i.
func (g *Graph) Preds(i int) []int { return g.preds[i] }

// Succs returns the direct successors of node i.
func (g *Graph) Succs(i int) []int { return g.succs[i] }

// ExternalDeps returns the file deps of node i owned by no task.
func (g *Graph) ExternalDeps(i int) []string { return g.external[i] }

// Owner returns the task producing the given path, if any.
func (g *Graph) Owner(path string) (int, bool) {
	i, ok := g.owner[path]
	return i, ok
}

// checkCycles runs a three-color depth-first traversal. A back edge into
// an in-progress node is a cycle; the error names the tasks on it.
func (g *Graph) checkCycles() error {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make([]int, len(g.Tasks))
	var stack []int

	var visit func(i int) *CycleError
	visit = func(i int) *CycleError {
		color[i] = gray
		stack = append(stack, i)
		for _, j := range g.preds[i] {
			switch color[j] {
			case gray:
				var names []string
				for k := len(stack) - 1; k >= 0; k-- {
					names = append(names, g.Tasks[stack[k]].Name)
					if stack[k] == j {
						break
					}
				}
				return &CycleError{Tasks: names}
			case white:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range g.Tasks {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoOrder returns all nodes in a deterministic topological order:
// dependencies first, ties broken by declaration order.
func (g *Graph) TopoOrder() []int {
	indeg := make([]int, len(g.Tasks))
	for i := range g.Tasks {
		indeg[i] = len(g.preds[i])
	}
	var order []int
	ready := make([]int, 0, len(g.Tasks))
	for i := range g.Tasks {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		// declaration order among ready nodes keeps runs reproducible
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		for _, j := range g.succs[i] {
			indeg[j]--
			if indeg[j] == 0 {
				ready = append(ready, j)
			}
		}
	}
	return order
}

// Closure returns the selected nodes plus all of their transitive
// predecessors, as a membership set over node indices.
func (g *Graph) Closure(selected []int) []bool {
	in := make([]bool, len(g.Tasks))
	var add func(i int)
	add = func(i int) {
		if in[i] {
			return
		}
		in[i] = true
		for _, j := range g.preds[i] {
			add(j)
		}
	}
	for _, i := range selected {
		add(i)
	}
	return in
}

// Descendants returns the transitive successors of node i.
func (g *Graph) Descendants(i int) []int {
	seen := make([]bool, len(g.Tasks))
	var out []int
	var walk func(k int)
	walk = func(k int) {
		for _, j := range g.succs[k] {
			if !seen[j] {
				seen[j] = true
				out = append(out, j)
				walk(j)
			}
		}
	}
	walk(i)
	sort.Ints(out)
	return out
}
