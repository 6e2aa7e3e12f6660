package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveSession(ctx context.Context, state model.SessionState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *mockStore) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionState), args.Error(1)
}

func (m *mockStore) DeleteSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockStore) ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.SessionSummary, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SessionSummary), args.Error(1)
}

func (m *mockStore) RecordOutcome(ctx context.Context, o model.Outcome) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockStore) ListOutcomes(ctx context.Context, sessionID string, limit int) ([]model.Outcome, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Outcome), args.Error(1)
}

func (m *mockStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// --- helpers ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testConfig returns defaults with near-instant retries.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Resilience.MaxAttempts = 2
	cfg.Resilience.InitialBackoffMs = 1
	cfg.Resilience.MaxBackoffMs = 2
	cfg.Resilience.JitterFraction = 0
	return cfg
}
