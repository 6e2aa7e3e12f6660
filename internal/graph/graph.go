// Package graph implements the directed weighted affinity graph shared by the
// behavior tracker and the transition model. A Graph is not safe for
// concurrent use; its owner serializes access.
package graph

import (
	"sort"

	"github.com/sells-group/prefetch/internal/model"
)

// Graph maps source -> target -> weight. Weights are non-negative. A node is
// registered while at least one edge touches it.
type Graph struct {
	out   map[string]map[string]float64
	in    map[string]int // incoming edge count
	nodes map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		out:   make(map[string]map[string]float64),
		in:    make(map[string]int),
		nodes: make(map[string]bool),
	}
}

// Weight returns the weight of source->target, or 0 if absent.
func (g *Graph) Weight(source, target string) float64 {
	return g.out[source][target]
}

// Has reports whether source->target exists.
func (g *Graph) Has(source, target string) bool {
	_, ok := g.out[source][target]
	return ok
}

// Set stores source->target with weight w. Negative weights are stored as 0.
func (g *Graph) Set(source, target string, w float64) {
	if w < 0 {
		w = 0
	}
	row, ok := g.out[source]
	if !ok {
		row = make(map[string]float64)
		g.out[source] = row
	}
	if _, ok := row[target]; !ok {
		g.in[target]++
	}
	row[target] = w
	g.nodes[source] = true
	g.nodes[target] = true
}

// Remove deletes source->target. Endpoints left without edges are dropped.
func (g *Graph) Remove(source, target string) {
	row, ok := g.out[source]
	if !ok {
		return
	}
	if _, ok := row[target]; !ok {
		return
	}
	delete(row, target)
	if len(row) == 0 {
		delete(g.out, source)
	}
	g.in[target]--
	g.dropIfIsolated(source)
	g.dropIfIsolated(target)
}

func (g *Graph) dropIfIsolated(n string) {
	if len(g.out[n]) > 0 || g.in[n] > 0 {
		return
	}
	delete(g.in, n)
	delete(g.nodes, n)
}

// Row returns a copy of the outgoing weights of source.
func (g *Graph) Row(source string) map[string]float64 {
	row := g.out[source]
	out := make(map[string]float64, len(row))
	for t, w := range row {
		out[t] = w
	}
	return out
}

// HasSource reports whether source has at least one outgoing edge.
func (g *Graph) HasSource(source string) bool {
	return len(g.out[source]) > 0
}

// Sources returns every node with outgoing edges, sorted.
func (g *Graph) Sources() []string {
	out := make([]string, 0, len(g.out))
	for s := range g.out {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Nodes returns every endpoint of a live edge, sorted.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Successors returns the targets of source, sorted.
func (g *Graph) Successors(source string) []string {
	row := g.out[source]
	out := make([]string, 0, len(row))
	for t := range row {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// OutDegree returns the number of outgoing edges of node.
func (g *Graph) OutDegree(node string) int {
	return len(g.out[node])
}

// EdgeCount returns the total number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, row := range g.out {
		n += len(row)
	}
	return n
}

// Edges returns all edges ordered by source, then target.
func (g *Graph) Edges() []model.Edge {
	edges := make([]model.Edge, 0, g.EdgeCount())
	for _, s := range g.Sources() {
		for _, t := range g.Successors(s) {
			edges = append(edges, model.Edge{Source: s, Target: t, Weight: g.out[s][t]})
		}
	}
	return edges
}

// PruneRow keeps at most max outgoing edges of source, dropping the weakest.
// Ties are dropped in reverse target order so the result is deterministic.
// It returns the number of edges removed.
func (g *Graph) PruneRow(source string, max int) int {
	row := g.out[source]
	if max <= 0 || len(row) <= max {
		return 0
	}
	targets := g.Successors(source)
	sort.SliceStable(targets, func(i, j int) bool {
		return row[targets[i]] > row[targets[j]]
	})
	removed := 0
	for _, t := range targets[max:] {
		delete(row, t)
		g.in[t]--
		g.dropIfIsolated(t)
		removed++
	}
	return removed
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := New()
	for s, row := range g.out {
		for t, w := range row {
			c.Set(s, t, w)
		}
	}
	return c
}

// Reset removes every node and edge.
func (g *Graph) Reset() {
	g.out = make(map[string]map[string]float64)
	g.in = make(map[string]int)
	g.nodes = make(map[string]bool)
}
