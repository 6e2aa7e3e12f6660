package tracker

import (
	"math"

	"github.com/sells-group/prefetch/internal/graph"
	"github.com/sells-group/prefetch/internal/model"
)

const (
	linearMaxMeanDegree   = 1.5
	branchingMinVariance  = 1.0
	shapeDecisionMinScore = 0.3
	minCyclePathLen       = 3
)

// NavigationShape classifies the session's navigation as linear, branching,
// cyclic or mixed from the affinity graph's out-degree distribution and a
// DFS cycle count.
//
// Known limitation: the cycle count is a bounded-cost approximation, not a
// cycle basis. Each node is a DFS root at most once and a back edge counts
// whenever the current path holds at least three nodes, so two-node
// ping-pong is ignored and a short loop reached through a longer path is
// still counted.
func (t *Tracker) NavigationShape() model.ShapeScores {
	return classify(t.graph)
}

func classify(g *graph.Graph) model.ShapeScores {
	nodes := g.Nodes()
	scores := model.ShapeScores{Shape: model.ShapeMixed}
	if len(nodes) == 0 {
		return scores
	}

	var sum float64
	for _, n := range nodes {
		sum += float64(g.OutDegree(n))
	}
	mean := sum / float64(len(nodes))

	var variance float64
	for _, n := range nodes {
		d := float64(g.OutDegree(n)) - mean
		variance += d * d
	}
	variance /= float64(len(nodes))

	if mean < linearMaxMeanDegree {
		scores.Linear = 1 - mean/3
	}
	if variance > branchingMinVariance {
		scores.Branching = math.Min(variance/4, 1)
	}

	scores.Cycles = countCycles(g, nodes)
	if len(nodes) >= 3 {
		scores.Cyclic = math.Min(float64(scores.Cycles)/(float64(len(nodes))/3), 1)
	}

	best, label := scores.Linear, model.ShapeLinear
	if scores.Branching > best {
		best, label = scores.Branching, model.ShapeBranching
	}
	if scores.Cyclic > best {
		best, label = scores.Cyclic, model.ShapeCyclic
	}
	if best > shapeDecisionMinScore {
		scores.Shape = label
	}
	return scores
}

func countCycles(g *graph.Graph, nodes []string) int {
	visited := make(map[string]bool, len(nodes))
	onPath := make(map[string]bool, len(nodes))
	depth := 0
	cycles := 0

	var visit func(n string)
	visit = func(n string) {
		visited[n] = true
		onPath[n] = true
		depth++
		for _, next := range g.Successors(n) {
			if onPath[next] {
				if depth >= minCyclePathLen {
					cycles++
				}
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}
		depth--
		onPath[n] = false
	}

	for _, n := range nodes {
		if !visited[n] {
			visit(n)
		}
	}
	return cycles
}
