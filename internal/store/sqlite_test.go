package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prefetch/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "prefetch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleState(id string, savedAt time.Time) model.SessionState {
	return model.SessionState{
		SessionID:  id,
		Thresholds: model.Thresholds{High: 0.7, Medium: 0.35, Low: 0.15},
		Accuracy:   model.Accuracy{Total: 60, Correct: 45},
		Edges: []model.Edge{
			{Source: "home", Target: "search", Weight: 0.51},
			{Source: "search", Target: "results", Weight: 0.3},
		},
		Transitions: []model.TransitionRow{
			{Source: "home", Targets: map[string]float64{"search": 1}},
		},
		SavedAt: savedAt,
	}
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestSQLiteSaveAndLoadSession(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	savedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSession(ctx, sampleState("s1", savedAt)))

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, model.Accuracy{Total: 60, Correct: 45}, got.Accuracy)
	assert.Equal(t, 0.7, got.Thresholds.High)
	assert.Len(t, got.Edges, 2)
	assert.Equal(t, 1.0, got.Transitions[0].Targets["search"])
	assert.True(t, savedAt.Equal(got.SavedAt))
}

func TestSQLiteSaveSessionUpserts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveSession(ctx, sampleState("s1", now)))
	st := sampleState("s1", now.Add(time.Minute))
	st.Accuracy = model.Accuracy{Total: 80, Correct: 70}
	require.NoError(t, s.SaveSession(ctx, st))

	list, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 80, list[0].Accuracy.Total)
	assert.Equal(t, 70, list[0].Accuracy.Correct)
}

func TestSQLiteSaveSessionRequiresID(t *testing.T) {
	s := newTestSQLite(t)
	err := s.SaveSession(context.Background(), model.SessionState{})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestSQLiteLoadMissingSession(t *testing.T) {
	s := newTestSQLite(t)
	got, err := s.LoadSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteDeleteSession(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, sampleState("s1", time.Now())))

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.DeleteSession(ctx, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSQLiteListSessionsNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveSession(ctx, sampleState(id, base.Add(time.Duration(i)*time.Hour))))
	}

	list, err := s.ListSessions(ctx, SessionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].SessionID)
	assert.Equal(t, "b", list[1].SessionID)

	list, err = s.ListSessions(ctx, SessionFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].SessionID)
}

func TestSQLiteOutcomes(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordOutcome(ctx, model.Outcome{SessionID: "s1", ComponentID: "cart", WasPredicted: true, Accuracy: 1, RecordedAt: base}))
	require.NoError(t, s.RecordOutcome(ctx, model.Outcome{SessionID: "s1", ComponentID: "help", WasPredicted: false, Accuracy: 0.5, RecordedAt: base.Add(time.Second)}))
	require.NoError(t, s.RecordOutcome(ctx, model.Outcome{SessionID: "s2", ComponentID: "cart", RecordedAt: base}))

	got, err := s.ListOutcomes(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "help", got[0].ComponentID)
	assert.False(t, got[0].WasPredicted)
	assert.Equal(t, "cart", got[1].ComponentID)
	assert.True(t, got[1].WasPredicted)
	assert.NotEmpty(t, got[1].ID)

	err = s.RecordOutcome(ctx, model.Outcome{ComponentID: "x"})
	assert.True(t, model.IsValidation(err))
}

func TestSQLiteDeleteExpired(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	old := now.Add(-45 * 24 * time.Hour)

	require.NoError(t, s.SaveSession(ctx, sampleState("old", old)))
	require.NoError(t, s.SaveSession(ctx, sampleState("fresh", now)))
	require.NoError(t, s.RecordOutcome(ctx, model.Outcome{SessionID: "old", ComponentID: "a", RecordedAt: old}))
	require.NoError(t, s.RecordOutcome(ctx, model.Outcome{SessionID: "fresh", ComponentID: "a", RecordedAt: now}))

	n, err := s.DeleteExpired(ctx, RetentionCutoff(now, 30))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].SessionID)
}
