package model

import "time"

// ComponentImportance is a component's cumulative interaction score across
// the retained history.
type ComponentImportance struct {
	ComponentID string  `json:"component_id"`
	Importance  float64 `json:"importance"`
}

// PatternSnapshot is a point-in-time summary of a session's behavior. It is
// regenerated on every request and never persisted by the core.
type PatternSnapshot struct {
	Recent     []InteractionRecord   `json:"recent"` // most recent first
	Edges      []Edge                `json:"edges"`
	Density    float64               `json:"density"` // records per minute
	Top        []ComponentImportance `json:"top"`
	TakenAt    time.Time             `json:"taken_at"`
	HistoryLen int                   `json:"history_len"`
}

// Importance returns the top-K importance for id, if present.
func (s PatternSnapshot) Importance(id string) (float64, bool) {
	for _, c := range s.Top {
		if c.ComponentID == id {
			return c.Importance, true
		}
	}
	return 0, false
}

// RecentComponents returns the distinct component IDs among the n most recent
// records, most recent first.
func (s PatternSnapshot) RecentComponents(n int) []string {
	if n > len(s.Recent) {
		n = len(s.Recent)
	}
	seen := make(map[string]bool, n)
	var out []string
	for _, r := range s.Recent[:n] {
		id := r.ComponentID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// NavigationShape classifies how a session moves between components.
type NavigationShape string

const (
	ShapeLinear    NavigationShape = "linear"
	ShapeBranching NavigationShape = "branching"
	ShapeCyclic    NavigationShape = "cyclic"
	ShapeMixed     NavigationShape = "mixed"
)

// ShapeScores holds the per-label scores behind a NavigationShape decision.
type ShapeScores struct {
	Shape     NavigationShape `json:"shape"`
	Linear    float64         `json:"linear"`
	Branching float64         `json:"branching"`
	Cyclic    float64         `json:"cyclic"`
	Cycles    int             `json:"cycles"`
}
