// Package predict holds the normalized transition model and the strategies
// that turn it into ranked component predictions.
package predict

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/graph"
	"github.com/sells-group/prefetch/internal/model"
)

// DefaultLearningRate is the EMA rate used when the config leaves it unset.
const DefaultLearningRate = 0.03

type edgeKey struct{ source, target string }

// TransitionModel is a row-normalized copy of the behavior graph. Ingest is
// single-writer; lookups take a read lock, so one model may serve many
// sessions.
type TransitionModel struct {
	mu     sync.RWMutex
	rate   float64
	matrix *graph.Graph
	// last raw weight ingested per edge; unchanged edges are skipped
	seen map[edgeKey]float64
	warn model.WarnFunc
}

// ModelOption configures a TransitionModel.
type ModelOption func(*TransitionModel)

// WithModelWarnFunc routes degenerate-state warnings to f.
func WithModelWarnFunc(f model.WarnFunc) ModelOption {
	return func(m *TransitionModel) { m.warn = f }
}

// NewTransitionModel creates an empty model. rate must lie in (0,1).
func NewTransitionModel(rate float64, opts ...ModelOption) (*TransitionModel, error) {
	if !(rate > 0 && rate < 1) {
		return nil, model.NewValidationError("learning_rate", "must be in (0,1), got %v", rate)
	}
	m := &TransitionModel{
		rate:   rate,
		matrix: graph.New(),
		seen:   make(map[edgeKey]float64),
		warn:   model.LogWarning,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LearningRate returns the model's EMA rate.
func (m *TransitionModel) LearningRate() float64 {
	return m.rate
}

// Ingest blends edges into the matrix and renormalizes each touched row. It
// returns the number of edges that changed the model. Ingesting the same
// edges again is a no-op.
func (m *TransitionModel) Ingest(edges []model.Edge) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[string]bool)
	applied := 0
	for _, e := range edges {
		if e.Source == "" || e.Target == "" || math.IsNaN(e.Weight) || e.Weight < 0 {
			continue
		}
		k := edgeKey{e.Source, e.Target}
		if last, ok := m.seen[k]; ok && last == e.Weight {
			continue
		}
		m.seen[k] = e.Weight

		old := m.matrix.Weight(e.Source, e.Target)
		m.matrix.Set(e.Source, e.Target, old*(1-m.rate)+e.Weight*m.rate)
		touched[e.Source] = true
		applied++
	}

	for source := range touched {
		m.normalize(source)
	}
	if applied > 0 {
		zap.L().Debug("predict: ingested edges",
			zap.Int("applied", applied),
			zap.Int("rows", len(touched)),
		)
	}
	return applied
}

// normalize scales a row to sum to 1. Zero rows are left as they are.
func (m *TransitionModel) normalize(source string) {
	targets := m.matrix.Successors(source)
	var total float64
	for _, t := range targets {
		total += m.matrix.Weight(source, t)
	}
	if total <= 0 {
		m.warn(model.WarnZeroWeightRow, zap.String("source", source))
		return
	}
	for _, t := range targets {
		m.matrix.Set(source, t, m.matrix.Weight(source, t)/total)
	}
}

// TransitionProbability returns P(target | source). Unseen sources yield 0.
func (m *TransitionModel) TransitionProbability(source, target string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matrix.Weight(source, target)
}

// RowSum returns the total outgoing probability of source.
func (m *TransitionModel) RowSum(source string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, t := range m.matrix.Successors(source) {
		total += m.matrix.Weight(source, t)
	}
	return total
}

// Sources returns every source row in sorted order.
func (m *TransitionModel) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matrix.Sources()
}

// Rows exports the matrix, sorted by source.
func (m *TransitionModel) Rows() []model.TransitionRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sources := m.matrix.Sources()
	rows := make([]model.TransitionRow, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, model.TransitionRow{Source: s, Targets: m.matrix.Row(s)})
	}
	return rows
}

// Load replaces the matrix with rows and renormalizes them. The per-edge
// ingest memory is cleared.
func (m *TransitionModel) Load(rows []model.TransitionRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrix.Reset()
	m.seen = make(map[edgeKey]float64)
	for _, r := range rows {
		if r.Source == "" {
			continue
		}
		for t, w := range r.Targets {
			if t == "" || math.IsNaN(w) || w < 0 {
				continue
			}
			m.matrix.Set(r.Source, t, w)
		}
		if m.matrix.HasSource(r.Source) {
			m.normalize(r.Source)
		}
	}
}

// Reset empties the model.
func (m *TransitionModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrix.Reset()
	m.seen = make(map[edgeKey]float64)
}
