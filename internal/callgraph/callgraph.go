// Package callgraph turns captured indirect branches into a lattice call
// graph: every observed before/after pair becomes an edge.
package callgraph

import (
	"github.com/zboralski/lattice"

	"hookscope/internal/store"
)

// Node names a stop as module`function. Unsymbolicated stops fall back to
// their rip so distinct sites stay distinct.
func Node(ev store.Event) string {
	fn := ev.Function
	if fn == "" {
		fn = ev.Registers["rip"]
	}
	if fn == "" {
		fn = "?"
	}
	if ev.Module == "" {
		return fn
	}
	return ev.Module + "`" + fn
}

// FromBranches builds the graph of resolved indirect calls and jumps.
// Repeated edges collapse.
func FromBranches(pairs []store.BranchPair) *lattice.Graph {
	g := &lattice.Graph{}
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			g.Nodes = append(g.Nodes, n)
		}
	}
	for _, p := range pairs {
		caller, callee := Node(p.Before), Node(p.After)
		add(caller)
		add(callee)
		g.Edges = append(g.Edges, lattice.Edge{Caller: caller, Callee: callee})
	}
	g.Dedup()
	return g
}
