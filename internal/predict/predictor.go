package predict

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
)

const (
	transitionWeight     = 0.7
	edgeConfidence       = 0.3
	importanceDivisor    = 10.0
	maxImportanceBoost   = 0.3
	importanceConfidence = 0.2
	amplifyFactor        = 1.2
	amplifyConfidence    = 0.15

	defaultContextWindow = 3
)

// Transitions is the read side of a transition model.
type Transitions interface {
	TransitionProbability(source, target string) float64
}

// ThresholdSource supplies the current priority thresholds.
type ThresholdSource interface {
	Thresholds() model.Thresholds
}

// Predictor ranks candidate components against a PatternSnapshot.
type Predictor struct {
	model      Transitions
	thresholds ThresholdSource
	context    int
	exclusion  int
	warn       model.WarnFunc
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithWarnFunc routes degenerate-state warnings to f.
func WithWarnFunc(f model.WarnFunc) PredictorOption {
	return func(p *Predictor) { p.warn = f }
}

// DefaultConfig returns the model defaults.
func DefaultConfig() config.ModelConfig {
	return config.ModelConfig{
		LearningRate:    DefaultLearningRate,
		ContextWindow:   defaultContextWindow,
		ExclusionWindow: defaultContextWindow,
		DefaultStrategy: string(model.StrategyProbabilistic),
	}
}

// NewPredictor creates a Predictor. A zero ContextWindow uses 3 records. A
// zero ExclusionWindow disables the exclusion of recently active components.
func NewPredictor(m Transitions, th ThresholdSource, cfg config.ModelConfig, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		model:      m,
		thresholds: th,
		context:    cfg.ContextWindow,
		exclusion:  cfg.ExclusionWindow,
		warn:       model.LogWarning,
	}
	if p.context <= 0 {
		p.context = defaultContextWindow
	}
	if p.exclusion < 0 {
		p.exclusion = 0
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict scores candidates with strategy and returns them ranked by
// probability. An empty candidate list yields an empty set.
func (p *Predictor) Predict(snap model.PatternSnapshot, candidates []string, strategy model.Strategy) model.PredictionSet {
	cands := dedupe(candidates)
	if len(cands) == 0 {
		p.warn(model.WarnEmptyCandidates, zap.String("strategy", string(strategy)))
		return model.PredictionSet{}
	}
	th := p.thresholds.Thresholds()

	switch strategy {
	case model.StrategyFirstOrder:
		return p.firstOrder(snap, cands, th)
	case model.StrategyAmplified:
		return amplify(p.probabilistic(snap, cands, th), th)
	default:
		return p.probabilistic(snap, cands, th)
	}
}

func (p *Predictor) probabilistic(snap model.PatternSnapshot, cands []string, th model.Thresholds) model.PredictionSet {
	current := snap.RecentComponents(p.context)
	excluded := make(map[string]bool)
	for _, id := range snap.RecentComponents(p.exclusion) {
		excluded[id] = true
	}

	set := model.PredictionSet{}
	for _, cand := range cands {
		if excluded[cand] {
			continue
		}
		var prob, conf float64
		for _, c := range current {
			tp := p.model.TransitionProbability(c, cand)
			if tp > 0 {
				prob += tp * transitionWeight
				conf += edgeConfidence
			}
		}
		if imp, ok := snap.Importance(cand); ok {
			prob += math.Min(imp/importanceDivisor, maxImportanceBoost)
			conf += importanceConfidence
		}
		prob = clamp01(prob)
		if prob < th.Low {
			continue
		}
		set = append(set, model.Prediction{
			ComponentID: cand,
			Probability: prob,
			Confidence:  clamp01(conf),
			Priority:    th.Tier(prob),
			Strategy:    model.StrategyProbabilistic,
		})
	}
	sortSet(set)
	return set
}

// firstOrder uses only the most recent component as state.
func (p *Predictor) firstOrder(snap model.PatternSnapshot, cands []string, th model.Thresholds) model.PredictionSet {
	if len(snap.Recent) == 0 {
		p.warn(model.WarnInsufficientHistory, zap.String("strategy", string(model.StrategyFirstOrder)))
		return model.PredictionSet{}
	}
	last := snap.Recent[0].ComponentID()

	set := model.PredictionSet{}
	for _, cand := range cands {
		if cand == last {
			continue
		}
		prob := clamp01(p.model.TransitionProbability(last, cand))
		if prob < th.Low {
			continue
		}
		var conf float64
		if prob > 0 {
			conf = edgeConfidence
		}
		set = append(set, model.Prediction{
			ComponentID: cand,
			Probability: prob,
			Confidence:  conf,
			Priority:    th.Tier(prob),
			Strategy:    model.StrategyFirstOrder,
		})
	}
	sortSet(set)
	return set
}

func amplify(set model.PredictionSet, th model.Thresholds) model.PredictionSet {
	for i := range set {
		set[i].Probability = math.Min(set[i].Probability*amplifyFactor, 1)
		set[i].Confidence = math.Min(set[i].Confidence+amplifyConfidence, 1)
		set[i].Priority = th.Tier(set[i].Probability)
		set[i].Strategy = model.StrategyAmplified
	}
	// Scaling is monotone but capping at 1 can create new ties.
	sortSet(set)
	return set
}

func sortSet(set model.PredictionSet) {
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].Probability != set[j].Probability {
			return set[i].Probability > set[j].Probability
		}
		return set[i].ComponentID < set[j].ComponentID
	})
}

// dedupe normalizes candidate IDs and drops blanks and repeats, keeping the
// first occurrence.
func dedupe(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := model.NormalizeComponentID(c)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
