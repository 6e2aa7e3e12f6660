package model

// Strategy selects the scoring algorithm used by Predict.
type Strategy string

const (
	StrategyProbabilistic Strategy = "probabilistic"
	StrategyFirstOrder    Strategy = "first_order"
	StrategyAmplified     Strategy = "amplified"
)

// ParseStrategy maps a strategy name to a Strategy. The empty string selects
// the probabilistic default.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyProbabilistic:
		return StrategyProbabilistic, nil
	case StrategyFirstOrder, "first-order-sequence", "first-order":
		return StrategyFirstOrder, nil
	case StrategyAmplified:
		return StrategyAmplified, nil
	default:
		return "", NewValidationError("strategy", "unknown strategy %q", s)
	}
}

// Priority is the confidence tier derived from a prediction's probability.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Prediction is one ranked component forecast. Confidence measures how much
// corroborating evidence contributed and is independent of Probability.
type Prediction struct {
	ComponentID string   `json:"component_id"`
	Probability float64  `json:"probability"`
	Confidence  float64  `json:"confidence"`
	Priority    Priority `json:"priority"`
	Strategy    Strategy `json:"strategy"`
}

// PredictionSet is ordered by probability descending, ties by component ID.
type PredictionSet []Prediction

// Contains reports whether id is among the predictions.
func (ps PredictionSet) Contains(id string) bool {
	for _, p := range ps {
		if p.ComponentID == id {
			return true
		}
	}
	return false
}

// IDs returns the predicted component IDs in rank order.
func (ps PredictionSet) IDs() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ComponentID
	}
	return out
}

// Thresholds partitions probability space into priority tiers.
// Invariant: High >= Medium >= Low.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// Tier maps a probability onto a priority using t.
func (t Thresholds) Tier(p float64) Priority {
	switch {
	case p >= t.High:
		return PriorityHigh
	case p >= t.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Accuracy counts issued and confirmed predictions.
type Accuracy struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Rate returns Correct/Total, or 0 before any outcome is reported.
func (a Accuracy) Rate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}

// Registry supplies the loadable component identifiers known to the host.
type Registry interface {
	Components() []string
}

// StaticRegistry is a fixed component list.
type StaticRegistry []string

// Components implements Registry.
func (r StaticRegistry) Components() []string {
	out := make([]string, len(r))
	copy(out, r)
	return out
}
