// Package monitoring aggregates live session statistics and raises webhook
// alerts when prediction quality or store health degrades.
package monitoring

import (
	"time"

	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/resilience"
	"github.com/sells-group/prefetch/internal/threshold"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Session metrics.
	Sessions     int `json:"sessions"`
	WarmSessions int `json:"warm_sessions"`
	Interactions int `json:"interactions"`
	Edges        int `json:"edges"`

	// Outcome metrics, summed over all live sessions.
	Outcomes int     `json:"outcomes"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`

	// Degenerate-state warnings per retained interaction.
	Warnings    int     `json:"warnings"`
	WarningRate float64 `json:"warning_rate"`

	// Warm sessions whose thresholds sit on a floor or ceiling.
	SaturatedSessions int              `json:"saturated_sessions"`
	AvgThresholds     model.Thresholds `json:"avg_thresholds"`

	// Store health.
	DLQDepth     int    `json:"dlq_depth"`
	StoreCircuit string `json:"store_circuit"`

	CollectedAt time.Time `json:"collected_at"`
}

// Source is the slice of the session manager the collector reads.
type Source interface {
	Stats() []model.SessionStats
	PendingWrites() int
	StoreCircuit() resilience.CircuitState
}

// Collector gathers metrics from the session manager.
type Collector struct {
	source Source
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{source: src, now: time.Now}
}

// Collect gathers a snapshot of engine metrics.
func (c *Collector) Collect() *MetricsSnapshot {
	snap := &MetricsSnapshot{
		CollectedAt:  c.now().UTC(),
		DLQDepth:     c.source.PendingWrites(),
		StoreCircuit: c.source.StoreCircuit().String(),
	}

	var sum model.Thresholds
	for _, s := range c.source.Stats() {
		snap.Sessions++
		snap.Interactions += s.HistoryLen
		snap.Edges += s.EdgeCount
		snap.Outcomes += s.Accuracy.Total
		snap.Correct += s.Accuracy.Correct
		snap.Warnings += s.Warnings

		sum.High += s.Thresholds.High
		sum.Medium += s.Thresholds.Medium
		sum.Low += s.Thresholds.Low

		if s.Phase == model.PhaseWarm {
			snap.WarmSessions++
			if saturated(s.Thresholds) {
				snap.SaturatedSessions++
			}
		}
	}

	if snap.Outcomes > 0 {
		snap.Accuracy = float64(snap.Correct) / float64(snap.Outcomes)
	}
	if snap.Interactions > 0 {
		snap.WarningRate = float64(snap.Warnings) / float64(snap.Interactions)
	}
	if snap.Sessions > 0 {
		n := float64(snap.Sessions)
		snap.AvgThresholds = model.Thresholds{High: sum.High / n, Medium: sum.Medium / n, Low: sum.Low / n}
	}
	return snap
}

// saturated reports whether every tier is pinned to the same bound.
func saturated(t model.Thresholds) bool {
	atFloor := t.High <= threshold.Floors.High && t.Medium <= threshold.Floors.Medium && t.Low <= threshold.Floors.Low
	atCeiling := t.High >= threshold.Ceilings.High && t.Medium >= threshold.Ceilings.Medium && t.Low >= threshold.Ceilings.Low
	return atFloor || atCeiling
}
