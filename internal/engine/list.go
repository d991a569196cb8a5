package engine

// ListEntry is one task's status line for `list`.
type ListEntry struct {
	Name   string
	Doc    string
	Stale  bool
	Reason string
}

// List reports every task's fresh/stale verdict in topological order
// without executing anything. Two successive calls over an unchanged
// filesystem return identical entries in identical order.
func List(g *Graph, eval *Evaluator) []ListEntry {
	var entries []ListEntry
	for _, i := range g.TopoOrder() {
		t := g.Tasks[i]
		v := eval.Evaluate(g, i, nil)
		entries = append(entries, ListEntry{Name: t.Name, Doc: t.Doc, Stale: v.Stale, Reason: v.Reason})
	}
	return entries
}
