// Package tracker turns raw interaction events into a decaying affinity graph
// and per-session summary statistics.
package tracker

import (
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/graph"
	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/weights"
)

const (
	// Edge EMA: new = old*edgeDecay + score*edgeSample.
	edgeDecay  = 0.7
	edgeSample = 0.3

	maxDurationBonusSecs = 10.0
	durationBonus        = 0.5
	coverageBonus        = 0.3
	recencyHorizonMins   = 5.0
)

// DefaultConfig returns the tracker defaults.
func DefaultConfig() config.TrackerConfig {
	return config.TrackerConfig{
		RetentionMins:   30,
		HistoryLimit:    1000,
		MaxEdgesPerNode: 50,
		TopK:            5,
		RecentWindow:    10,
		PriorWindow:     5,
	}
}

// Tracker ingests interaction events for a single session. It is not safe for
// concurrent use: callers serialize RecordInteraction per session so that the
// prior-component lookup and the EMA updates happen in event order.
type Tracker struct {
	cfg config.TrackerConfig
	now func() time.Time

	history []model.InteractionRecord // arrival order
	graph   *graph.Graph
	start   time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the clock used for recency and retention.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker. Zero-valued config fields fall back to defaults.
func New(cfg config.TrackerConfig, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:   applyDefaults(cfg),
		now:   time.Now,
		graph: graph.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func applyDefaults(cfg config.TrackerConfig) config.TrackerConfig {
	d := DefaultConfig()
	if cfg.RetentionMins <= 0 {
		cfg.RetentionMins = d.RetentionMins
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = d.HistoryLimit
	}
	if cfg.MaxEdgesPerNode <= 0 {
		cfg.MaxEdgesPerNode = d.MaxEdgesPerNode
	}
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = d.RecentWindow
	}
	if cfg.PriorWindow <= 0 {
		cfg.PriorWindow = d.PriorWindow
	}
	return cfg
}

// RecordInteraction validates, scores and stores ev, then updates the edge
// from the most recent distinct prior component. A rejected event leaves the
// tracker untouched.
func (t *Tracker) RecordInteraction(ev model.InteractionEvent) (*model.InteractionRecord, error) {
	ev.ComponentID = model.NormalizeComponentID(ev.ComponentID)
	if ev.ComponentID == "" {
		return nil, model.NewValidationError("component_id", "must not be empty")
	}
	if ev.DurationMS != nil {
		d := *ev.DurationMS
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, model.NewValidationError("duration_ms", "must be a finite value >= 0, got %v", d)
		}
		ev.DurationMS = model.Float64(d)
	}
	if ev.ViewportCoverage != nil {
		c := *ev.ViewportCoverage
		if math.IsNaN(c) {
			c = 0
		}
		ev.ViewportCoverage = model.Float64(clamp01(c))
	}

	now := t.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if ev.Timestamp.Unix() < 0 || ulid.Timestamp(ev.Timestamp) > ulid.MaxTime() {
		return nil, model.NewValidationError("timestamp", "must be between 1970-01-01 and the year 10889, got %s", ev.Timestamp.Format(time.RFC3339))
	}
	id, err := ulid.New(ulid.Timestamp(ev.Timestamp), ulid.DefaultEntropy())
	if err != nil {
		return nil, model.NewValidationError("timestamp", "%v", err)
	}

	if t.start.IsZero() || ev.Timestamp.Before(t.start) {
		t.start = ev.Timestamp
	}

	base, known := weights.For(ev.Kind)
	if !known {
		zap.L().Debug("tracker: unrecognized interaction kind, using default weight",
			zap.String("kind", string(ev.Kind)),
			zap.Float64("weight", base),
		)
	}

	rec := model.InteractionRecord{
		ID:         id.String(),
		Event:      ev,
		BaseWeight: base,
		Score:      Score(base, ev, now),
		Elapsed:    ev.Timestamp.Sub(t.start),
	}

	if prior := t.priorDistinct(ev.ComponentID); prior != "" {
		old := t.graph.Weight(prior, ev.ComponentID)
		t.graph.Set(prior, ev.ComponentID, old*edgeDecay+rec.Score*edgeSample)
		if n := t.graph.PruneRow(prior, t.cfg.MaxEdgesPerNode); n > 0 {
			zap.L().Debug("tracker: pruned weak edges",
				zap.String("source", prior),
				zap.Int("removed", n),
			)
		}
	}

	t.history = append(t.history, rec)
	t.purge(now)

	return &rec, nil
}

// Score computes an event's interaction score from its base weight, optional
// duration and viewport coverage, and how stale it is relative to now.
func Score(base float64, ev model.InteractionEvent, now time.Time) float64 {
	score := base
	if ev.DurationMS != nil {
		secs := math.Min(*ev.DurationMS/1000, maxDurationBonusSecs)
		score *= 1 + secs/maxDurationBonusSecs*durationBonus
	}
	if ev.ViewportCoverage != nil {
		score *= 1 + clamp01(*ev.ViewportCoverage)*coverageBonus
	}
	recencyMins := now.Sub(ev.Timestamp).Minutes()
	if recencyMins < 0 {
		recencyMins = 0
	}
	score *= 1 - math.Min(recencyMins, recencyHorizonMins)/recencyHorizonMins
	return score
}

// priorDistinct returns the most recent component other than current among
// the last PriorWindow records, or "" if there is none.
func (t *Tracker) priorDistinct(current string) string {
	stop := len(t.history) - t.cfg.PriorWindow
	if stop < 0 {
		stop = 0
	}
	for i := len(t.history) - 1; i >= stop; i-- {
		if id := t.history[i].ComponentID(); id != current {
			return id
		}
	}
	return ""
}

// purge drops records older than the retention window, then trims the
// history to HistoryLimit.
func (t *Tracker) purge(now time.Time) {
	cutoff := now.Add(-t.cfg.Retention())
	kept := t.history[:0]
	for _, r := range t.history {
		if r.Event.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	// Clear the tail so dropped records can be collected.
	for i := len(kept); i < len(t.history); i++ {
		t.history[i] = model.InteractionRecord{}
	}
	t.history = kept

	if over := len(t.history) - t.cfg.HistoryLimit; over > 0 {
		t.history = append([]model.InteractionRecord(nil), t.history[over:]...)
	}
}

// CurrentPatterns builds a PatternSnapshot. It does not modify the tracker.
func (t *Tracker) CurrentPatterns() model.PatternSnapshot {
	now := t.now()
	snap := model.PatternSnapshot{
		Edges:      t.graph.Edges(),
		TakenAt:    now,
		HistoryLen: len(t.history),
	}

	n := t.cfg.RecentWindow
	if n > len(t.history) {
		n = len(t.history)
	}
	snap.Recent = make([]model.InteractionRecord, 0, n)
	for i := len(t.history) - 1; i >= len(t.history)-n; i-- {
		snap.Recent = append(snap.Recent, t.history[i])
	}

	snap.Density = t.density(now)
	snap.Top = t.topComponents()
	return snap
}

// density is records per minute over the session lifetime. Lifetimes under a
// second count as one second.
func (t *Tracker) density(now time.Time) float64 {
	if len(t.history) == 0 || t.start.IsZero() {
		return 0
	}
	lifetime := now.Sub(t.start)
	if lifetime < time.Second {
		lifetime = time.Second
	}
	return float64(len(t.history)) / lifetime.Minutes()
}

// topComponents ranks components by cumulative score, ties by ID.
func (t *Tracker) topComponents() []model.ComponentImportance {
	totals := make(map[string]float64)
	for _, r := range t.history {
		totals[r.ComponentID()] += r.Score
	}
	ranked := make([]model.ComponentImportance, 0, len(totals))
	for id, score := range totals {
		ranked = append(ranked, model.ComponentImportance{ComponentID: id, Importance: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Importance != ranked[j].Importance {
			return ranked[i].Importance > ranked[j].Importance
		}
		return ranked[i].ComponentID < ranked[j].ComponentID
	})
	if len(ranked) > t.cfg.TopK {
		ranked = ranked[:t.cfg.TopK]
	}
	return ranked
}

// Edges returns the raw affinity edges in deterministic order.
func (t *Tracker) Edges() []model.Edge {
	return t.graph.Edges()
}

// EdgeCount returns the number of affinity edges.
func (t *Tracker) EdgeCount() int {
	return t.graph.EdgeCount()
}

// HistoryLen returns the number of retained records.
func (t *Tracker) HistoryLen() int {
	return len(t.history)
}

// History returns a copy of the retained records, oldest first.
func (t *Tracker) History() []model.InteractionRecord {
	out := make([]model.InteractionRecord, len(t.history))
	copy(out, t.history)
	return out
}

// LoadEdges replaces the affinity graph with edges, e.g. when a host restores
// a persisted session.
func (t *Tracker) LoadEdges(edges []model.Edge) {
	t.graph.Reset()
	for _, e := range edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		t.graph.Set(e.Source, e.Target, e.Weight)
	}
}

// Reset clears history, graph and session start.
func (t *Tracker) Reset() {
	t.history = nil
	t.graph.Reset()
	t.start = time.Time{}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
