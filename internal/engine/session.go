// Package engine wires the behavior tracker, transition model, predictor and
// threshold controller into per-session units and manages their lifecycle.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/predict"
	"github.com/sells-group/prefetch/internal/threshold"
	"github.com/sells-group/prefetch/internal/tracker"
)

// Session is one user's forecast loop. All methods are safe for concurrent
// use; they serialize on the session mutex so interactions are applied in
// call order.
type Session struct {
	id  string
	now func() time.Time

	mu         sync.Mutex
	tracker    *tracker.Tracker
	model      *predict.TransitionModel
	shared     bool
	controller *threshold.Controller
	predictor  *predict.Predictor
	strategy   model.Strategy
	lastSet    model.PredictionSet
	lastActive time.Time

	warnings atomic.Int64
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	now    func() time.Time
	shared *predict.TransitionModel
}

// WithClock overrides the session clock.
func WithClock(now func() time.Time) SessionOption {
	return func(o *sessionOptions) { o.now = now }
}

// WithSharedModel makes the session read and feed m instead of owning a
// private transition model.
func WithSharedModel(m *predict.TransitionModel) SessionOption {
	return func(o *sessionOptions) { o.shared = m }
}

// NewSession builds a session from cfg. It fails only on invalid model or
// threshold settings.
func NewSession(id string, cfg *config.Config, opts ...SessionOption) (*Session, error) {
	o := sessionOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	strategy, err := model.ParseStrategy(cfg.Model.DefaultStrategy)
	if err != nil {
		return nil, err
	}

	s := &Session{id: id, now: o.now, strategy: strategy}

	if o.shared != nil {
		s.model, s.shared = o.shared, true
	} else {
		rate := cfg.Model.LearningRate
		if rate == 0 {
			rate = predict.DefaultLearningRate
		}
		s.model, err = predict.NewTransitionModel(rate, predict.WithModelWarnFunc(s.warn))
		if err != nil {
			return nil, err
		}
	}

	s.controller, err = threshold.New(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	s.tracker = tracker.New(cfg.Tracker, tracker.WithClock(o.now))
	s.predictor = predict.NewPredictor(s.model, s.controller, cfg.Model, predict.WithWarnFunc(s.warn))
	s.lastActive = o.now()
	return s, nil
}

func (s *Session) warn(w model.Warning, fields ...zap.Field) {
	s.warnings.Add(1)
	model.LogWarning(w, append(fields, zap.String("session_id", s.id))...)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RecordInteraction ingests ev and feeds the resulting edges to the
// transition model.
func (s *Session) RecordInteraction(ev model.InteractionEvent) (*model.InteractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.tracker.RecordInteraction(ev)
	if err != nil {
		return nil, err
	}
	s.model.Ingest(s.tracker.Edges())
	s.lastActive = s.now()
	return rec, nil
}

// CurrentPatterns returns the current PatternSnapshot.
func (s *Session) CurrentPatterns() model.PatternSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.CurrentPatterns()
}

// NavigationShape classifies the session's affinity graph.
func (s *Session) NavigationShape() model.ShapeScores {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.NavigationShape()
}

// Predict ranks candidates against snap. An empty strategy uses the
// configured default. The result is remembered for ReportUsage.
func (s *Session) Predict(snap model.PatternSnapshot, candidates []string, strategy model.Strategy) model.PredictionSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strategy == "" {
		strategy = s.strategy
	}
	set := s.predictor.Predict(snap, candidates, strategy)
	s.lastSet = set
	s.lastActive = s.now()
	return set
}

// PredictNext snapshots the tracker and predicts in one step.
func (s *Session) PredictNext(candidates []string, strategy model.Strategy) model.PredictionSet {
	return s.Predict(s.CurrentPatterns(), candidates, strategy)
}

// ReportOutcome feeds one realized outcome to the threshold controller and
// returns the updated accuracy.
func (s *Session) ReportOutcome(componentID string, wasPredicted bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.now()
	return s.controller.ReportOutcome(model.NormalizeComponentID(componentID), wasPredicted)
}

// ReportUsage reports componentID as used, deriving wasPredicted from the
// most recent prediction set.
func (s *Session) ReportUsage(componentID string) (wasPredicted bool, accuracy float64) {
	id := model.NormalizeComponentID(componentID)
	s.mu.Lock()
	wasPredicted = s.lastSet.Contains(id)
	s.mu.Unlock()
	return wasPredicted, s.ReportOutcome(id, wasPredicted)
}

// LastPredictions returns the most recent prediction set.
func (s *Session) LastPredictions() model.PredictionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(model.PredictionSet, len(s.lastSet))
	copy(out, s.lastSet)
	return out
}

// Thresholds returns the current priority thresholds.
func (s *Session) Thresholds() model.Thresholds { return s.controller.Thresholds() }

// Accuracy returns the outcome counters.
func (s *Session) Accuracy() model.Accuracy { return s.controller.Accuracy() }

// Phase returns the controller's warm-up phase.
func (s *Session) Phase() model.Phase { return s.controller.Phase() }

// LastActive returns when the session last handled a call.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Export captures the portable session state.
func (s *Session) Export() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionState{
		SessionID:   s.id,
		Thresholds:  s.controller.Thresholds(),
		Accuracy:    s.controller.Accuracy(),
		Edges:       s.tracker.Edges(),
		Transitions: s.model.Rows(),
		SavedAt:     s.now(),
	}
}

// Restore loads a previously exported state. A shared transition model is
// left untouched.
func (s *Session) Restore(state model.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.LoadEdges(state.Edges)
	s.controller.Restore(state.Thresholds, state.Accuracy)
	if !s.shared {
		s.model.Load(state.Transitions)
	}
	zap.L().Debug("engine: session restored",
		zap.String("session_id", s.id),
		zap.Int("edges", len(state.Edges)),
		zap.Int("outcomes", state.Accuracy.Total),
	)
}

// Stats summarizes the session for monitoring.
func (s *Session) Stats() model.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionStats{
		SessionID:    s.id,
		Phase:        s.controller.Phase(),
		Accuracy:     s.controller.Accuracy(),
		Thresholds:   s.controller.Thresholds(),
		HistoryLen:   s.tracker.HistoryLen(),
		EdgeCount:    s.tracker.EdgeCount(),
		Warnings:     int(s.warnings.Load()),
		LastActiveAt: s.lastActive,
	}
}

// Reset clears history, edges, accuracy and thresholds. A shared transition
// model is not cleared.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.controller.Reset()
	if !s.shared {
		s.model.Reset()
	}
	s.lastSet = nil
	s.warnings.Store(0)
	s.lastActive = s.now()
}
