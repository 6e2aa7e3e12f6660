package tracker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, cfg config.TrackerConfig) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(cfg, WithClock(clock.Now)), clock
}

func record(t *testing.T, tr *Tracker, clock *fakeClock, id string, kind model.InteractionKind) *model.InteractionRecord {
	t.Helper()
	rec, err := tr.RecordInteraction(model.InteractionEvent{ComponentID: id, Kind: kind, Timestamp: clock.Now()})
	require.NoError(t, err)
	return rec
}

func TestRecordInteraction_Validation(t *testing.T) {
	tests := []struct {
		name  string
		ev    model.InteractionEvent
		field string
	}{
		{"empty component", model.InteractionEvent{Kind: model.KindClick}, "component_id"},
		{"whitespace component", model.InteractionEvent{ComponentID: "  \t", Kind: model.KindClick}, "component_id"},
		{"negative duration", model.InteractionEvent{ComponentID: "a", Kind: model.KindClick, DurationMS: model.Float64(-1)}, "duration_ms"},
		{"nan duration", model.InteractionEvent{ComponentID: "a", Kind: model.KindClick, DurationMS: model.Float64(math.NaN())}, "duration_ms"},
		{"timestamp before epoch", model.InteractionEvent{ComponentID: "a", Kind: model.KindClick, Timestamp: time.Date(1965, 1, 1, 0, 0, 0, 0, time.UTC)}, "timestamp"},
		{"timestamp past ulid range", model.InteractionEvent{ComponentID: "a", Kind: model.KindClick, Timestamp: time.Date(11000, 1, 1, 0, 0, 0, 0, time.UTC)}, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(t, DefaultConfig())
			var rec *model.InteractionRecord
			var err error
			require.NotPanics(t, func() { rec, err = tr.RecordInteraction(tt.ev) })
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.True(t, model.IsValidation(err))

			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, 0, tr.HistoryLen())
			assert.Equal(t, 0, tr.EdgeCount())
		})
	}
}

func TestRecordInteraction_RejectedEventDoesNotCorruptGraph(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	record(t, tr, clock, "a", model.KindClick)
	clock.Advance(time.Second)

	_, err := tr.RecordInteraction(model.InteractionEvent{Kind: model.KindClick})
	require.Error(t, err)

	clock.Advance(time.Second)
	record(t, tr, clock, "b", model.KindClick)

	assert.Equal(t, []model.Edge{{Source: "a", Target: "b", Weight: 0.3}}, tr.Edges())
	assert.Equal(t, 2, tr.HistoryLen())
}

func TestRecordInteraction_UnknownKindUsesDefaultWeight(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	rec, err := tr.RecordInteraction(model.InteractionEvent{ComponentID: "widget", Kind: "long_press", Timestamp: clock.Now()})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rec.BaseWeight, 1e-9)
	assert.InDelta(t, 0.3, rec.Score, 1e-9)
}

func TestRecordInteraction_NormalizesAndDefaults(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	rec, err := tr.RecordInteraction(model.InteractionEvent{
		ComponentID:      "  café  ",
		Kind:             model.KindClick,
		ViewportCoverage: model.Float64(1.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "café", rec.ComponentID())
	assert.Equal(t, clock.Now(), rec.Event.Timestamp)
	require.NotNil(t, rec.Event.ViewportCoverage)
	assert.InDelta(t, 1.0, *rec.Event.ViewportCoverage, 1e-9)
	assert.NotEmpty(t, rec.ID)
}

func TestRecordInteraction_DoesNotAliasCallerPointers(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	dur := 500.0
	rec, err := tr.RecordInteraction(model.InteractionEvent{ComponentID: "a", Kind: model.KindClick, DurationMS: &dur, Timestamp: clock.Now()})
	require.NoError(t, err)

	dur = 9999
	assert.InDelta(t, 500.0, *rec.Event.DurationMS, 1e-9)
	assert.InDelta(t, 500.0, *tr.History()[0].Event.DurationMS, 1e-9)
}

func TestScore(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		base     float64
		duration *float64
		coverage *float64
		age      time.Duration
		want     float64
	}{
		{"bare", 1.0, nil, nil, 0, 1.0},
		{"half duration bonus", 1.0, model.Float64(5000), nil, 0, 1.25},
		{"duration capped at 10s", 1.0, model.Float64(60000), nil, 0, 1.5},
		{"zero duration", 1.0, model.Float64(0), nil, 0, 1.0},
		{"full coverage", 1.0, nil, model.Float64(1), 0, 1.3},
		{"half coverage", 1.0, nil, model.Float64(0.5), 0, 1.15},
		{"duration and coverage", 1.0, model.Float64(10000), model.Float64(1), 0, 1.95},
		{"half stale", 1.0, nil, nil, 150 * time.Second, 0.5},
		{"fully stale", 1.0, nil, nil, 5 * time.Minute, 0},
		{"beyond stale floor", 1.0, nil, nil, 20 * time.Minute, 0},
		{"future timestamp", 0.8, nil, nil, -time.Minute, 0.8},
		{"default weight", 0.3, nil, nil, 0, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := model.InteractionEvent{
				ComponentID:      "a",
				DurationMS:       tt.duration,
				ViewportCoverage: tt.coverage,
				Timestamp:        now.Add(-tt.age),
			}
			assert.InDelta(t, tt.want, Score(tt.base, ev, now), 1e-9)
		})
	}
}

func TestEdgeEMA(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	record(t, tr, clock, "a", model.KindClick)
	clock.Advance(2 * time.Second)
	record(t, tr, clock, "b", model.KindClick)

	require.Len(t, tr.Edges(), 1)
	assert.InDelta(t, 0.3, tr.Edges()[0].Weight, 1e-9)

	clock.Advance(2 * time.Second)
	record(t, tr, clock, "a", model.KindClick)
	clock.Advance(2 * time.Second)
	record(t, tr, clock, "b", model.KindClick)

	edges := tr.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, "a", edges[0].Source)
	assert.Equal(t, "b", edges[0].Target)
	assert.InDelta(t, 0.3*0.7+0.3, edges[0].Weight, 1e-9)
	assert.Equal(t, "b", edges[1].Source)
	assert.Equal(t, "a", edges[1].Target)
	assert.InDelta(t, 0.3, edges[1].Weight, 1e-9)
}

func TestFirstEventCreatesNoEdge(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	record(t, tr, clock, "a", model.KindClick)
	record(t, tr, clock, "a", model.KindClick)
	assert.Empty(t, tr.Edges())
}

func TestPriorDistinctWindow(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	record(t, tr, clock, "x", model.KindClick)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		record(t, tr, clock, "a", model.KindClick)
	}
	before := tr.Edges()
	require.Len(t, before, 1)
	assert.Equal(t, "x", before[0].Source)

	// The last five records are all "a", so "x" is out of reach.
	clock.Advance(time.Second)
	record(t, tr, clock, "a", model.KindClick)
	assert.Equal(t, before, tr.Edges())

	clock.Advance(time.Second)
	record(t, tr, clock, "b", model.KindClick)
	edges := tr.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, model.Edge{Source: "a", Target: "b", Weight: 0.3}, edges[0])
}

func TestRetentionPurge(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	record(t, tr, clock, "a", model.KindClick)
	clock.Advance(10 * time.Minute)
	record(t, tr, clock, "b", model.KindClick)
	clock.Advance(21 * time.Minute)
	record(t, tr, clock, "c", model.KindClick)

	hist := tr.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].ComponentID())
	assert.Equal(t, "c", hist[1].ComponentID())
}

func TestRetentionBoundHoldsForLongSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionMins = 5
	tr, clock := newTestTracker(t, cfg)

	ids := []string{"home", "search", "results", "detail", "cart", "checkout"}
	for i := 0; i < 400; i++ {
		clock.Advance(time.Duration(7+i%13) * time.Second)
		record(t, tr, clock, ids[i%len(ids)], model.KindClick)

		cutoff := clock.Now().Add(-cfg.Retention())
		for _, r := range tr.History() {
			require.False(t, r.Event.Timestamp.Before(cutoff), "record %s older than retention", r.ID)
		}
	}
}

func TestStaleEventIsPurgedImmediately(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	rec, err := tr.RecordInteraction(model.InteractionEvent{
		ComponentID: "old",
		Kind:        model.KindClick,
		Timestamp:   clock.Now().Add(-45 * time.Minute),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, rec.Score, 1e-9)
	assert.Equal(t, 0, tr.HistoryLen())
}

func TestHistoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 3
	tr, clock := newTestTracker(t, cfg)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		clock.Advance(time.Second)
		record(t, tr, clock, id, model.KindClick)
	}

	hist := tr.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[0].ComponentID())
	assert.Equal(t, "e", hist[2].ComponentID())
}

func TestMaxEdgesPerNode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEdgesPerNode = 2
	tr, clock := newTestTracker(t, cfg)

	for _, id := range []string{"b", "c", "d"} {
		clock.Advance(time.Second)
		record(t, tr, clock, "hub", model.KindClick)
		clock.Advance(time.Second)
		record(t, tr, clock, id, model.KindClick)
	}

	out := 0
	for _, e := range tr.Edges() {
		if e.Source == "hub" {
			out++
		}
	}
	assert.Equal(t, 2, out)
}

func TestCurrentPatterns(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())

	for _, id := range []string{"a", "b", "a", "b"} {
		record(t, tr, clock, id, model.KindClick)
		clock.Advance(2 * time.Second)
	}
	clock.Advance(-2 * time.Second)

	snap := tr.CurrentPatterns()
	require.Len(t, snap.Recent, 4)
	assert.Equal(t, "b", snap.Recent[0].ComponentID())
	assert.Equal(t, "a", snap.Recent[1].ComponentID())
	assert.Equal(t, 4, snap.HistoryLen)
	assert.Len(t, snap.Edges, 2)
	// 4 records over 6 seconds.
	assert.InDelta(t, 40.0, snap.Density, 1e-9)

	require.Len(t, snap.Top, 2)
	assert.Equal(t, "a", snap.Top[0].ComponentID)
	assert.InDelta(t, 2.0, snap.Top[0].Importance, 1e-9)
	assert.Equal(t, "b", snap.Top[1].ComponentID)

	// Pure read.
	assert.Equal(t, snap, tr.CurrentPatterns())
}

func TestCurrentPatternsWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 2
	tr, clock := newTestTracker(t, cfg)

	for i := 0; i < 15; i++ {
		clock.Advance(time.Second)
		record(t, tr, clock, string(rune('a'+i%4)), model.KindClick)
	}

	snap := tr.CurrentPatterns()
	assert.Len(t, snap.Recent, 10)
	assert.Len(t, snap.Top, 2)
	assert.Equal(t, tr.History()[14].ID, snap.Recent[0].ID)
}

func TestCurrentPatternsEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())
	snap := tr.CurrentPatterns()
	assert.Empty(t, snap.Recent)
	assert.Empty(t, snap.Top)
	assert.Empty(t, snap.Edges)
	assert.InDelta(t, 0.0, snap.Density, 1e-9)
}

func TestLoadEdgesAndReset(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	record(t, tr, clock, "a", model.KindClick)

	tr.LoadEdges([]model.Edge{
		{Source: "x", Target: "y", Weight: 0.4},
		{Source: "", Target: "y", Weight: 1},
	})
	assert.Equal(t, []model.Edge{{Source: "x", Target: "y", Weight: 0.4}}, tr.Edges())

	tr.Reset()
	assert.Equal(t, 0, tr.HistoryLen())
	assert.Equal(t, 0, tr.EdgeCount())
	assert.Empty(t, tr.CurrentPatterns().Recent)
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(config.TrackerConfig{})
	assert.Equal(t, DefaultConfig(), cfg)
}
