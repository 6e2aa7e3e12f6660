package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/predict"
	"github.com/sells-group/prefetch/internal/resilience"
	"github.com/sells-group/prefetch/internal/store"
)

const retentionEvery = time.Hour

// Manager owns the live sessions of a process. Sessions are created on first
// use, optionally restored from and persisted to a store, and evicted when
// idle.
type Manager struct {
	cfg    *config.Config
	store  store.Store // nil disables persistence
	policy *resilience.Policy
	dlq    *resilience.DLQ
	shared *predict.TransitionModel
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	lastRetention time.Time // guarded by mu
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the clock handed to sessions and the sweeper.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithPolicy overrides the retry and circuit breaker policy for store calls.
func WithPolicy(p *resilience.Policy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// NewManager creates a Manager. st may be nil.
func NewManager(cfg *config.Config, st store.Store, opts ...ManagerOption) (*Manager, error) {
	breaker := resilience.FromCircuitConfig(cfg.Resilience)
	breaker.ShouldTrip = resilience.IsTransient
	m := &Manager{
		cfg:      cfg,
		store:    st,
		policy:   resilience.NewPolicy(resilience.FromRetryConfig(cfg.Resilience), breaker),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.dlq = resilience.NewDLQ(cfg.Resilience.MaxAttempts, m.sweepInterval(), m.now)

	if cfg.Engine.SharedModel {
		rate := cfg.Model.LearningRate
		if rate == 0 {
			rate = predict.DefaultLearningRate
		}
		shared, err := predict.NewTransitionModel(rate)
		if err != nil {
			return nil, eris.Wrap(err, "engine: shared model")
		}
		m.shared = shared
	}
	return m, nil
}

// Get returns the session for id, creating it (and restoring any stored
// state) on first use. Store failures are logged and a fresh session is
// returned.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	id = model.NormalizeComponentID(id)
	if id == "" {
		return nil, model.NewValidationError("session_id", "must not be empty")
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := m.newSession(id)
	if err != nil {
		return nil, err
	}
	m.restore(ctx, s)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have created it meanwhile.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	zap.L().Info("engine: session created", zap.String("session_id", id))
	return s, nil
}

func (m *Manager) newSession(id string) (*Session, error) {
	opts := []SessionOption{WithClock(m.now)}
	if m.shared != nil {
		opts = append(opts, WithSharedModel(m.shared))
	}
	return NewSession(id, m.cfg, opts...)
}

func (m *Manager) restore(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	var state *model.SessionState
	err := m.policy.Run(ctx, "load_session", func(ctx context.Context) error {
		var err error
		state, err = m.store.LoadSession(ctx, s.ID())
		return err
	})
	if err != nil {
		zap.L().Warn("engine: load session failed, starting fresh",
			zap.String("session_id", s.ID()),
			zap.Error(err),
		)
		return
	}
	if state != nil {
		s.Restore(*state)
	}
}

// Lookup returns a live session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[model.NormalizeComponentID(id)]
	return s, ok
}

// Delete drops the live session and its stored state.
func (m *Manager) Delete(ctx context.Context, id string) error {
	id = model.NormalizeComponentID(id)
	m.mu.Lock()
	_, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	m.dlq.Remove(id)

	if m.store == nil {
		if !live {
			return eris.Errorf("session not found: %s", id)
		}
		return nil
	}
	err := m.policy.Run(ctx, "delete_session", func(ctx context.Context) error {
		return m.store.DeleteSession(ctx, id)
	})
	if err != nil && live {
		// Never persisted; the live copy was all there was.
		zap.L().Debug("engine: delete stored session", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	return err
}

// ReportOutcome reports an outcome to the session and records it in the
// store. Store failures are logged, not returned.
func (m *Manager) ReportOutcome(ctx context.Context, s *Session, componentID string, wasPredicted bool) float64 {
	acc := s.ReportOutcome(componentID, wasPredicted)
	m.recordOutcome(ctx, s.ID(), componentID, wasPredicted, acc)
	return acc
}

// ReportUsage is ReportOutcome with wasPredicted taken from the session's
// last prediction set.
func (m *Manager) ReportUsage(ctx context.Context, s *Session, componentID string) (bool, float64) {
	was, acc := s.ReportUsage(componentID)
	m.recordOutcome(ctx, s.ID(), componentID, was, acc)
	return was, acc
}

func (m *Manager) recordOutcome(ctx context.Context, sessionID, componentID string, was bool, acc float64) {
	if m.store == nil {
		return
	}
	o := model.Outcome{
		SessionID:    sessionID,
		ComponentID:  model.NormalizeComponentID(componentID),
		WasPredicted: was,
		Accuracy:     acc,
		RecordedAt:   m.now(),
	}
	err := m.policy.Run(ctx, "record_outcome", func(ctx context.Context) error {
		return m.store.RecordOutcome(ctx, o)
	})
	if err != nil {
		zap.L().Warn("engine: record outcome failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Persist saves a live session's state. A failed save is queued for retry
// by Sweep and the error returned.
func (m *Manager) Persist(ctx context.Context, id string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return eris.Errorf("session not found: %s", id)
	}
	return m.save(ctx, s.Export())
}

func (m *Manager) save(ctx context.Context, state model.SessionState) error {
	if m.store == nil {
		return nil
	}
	err := m.policy.Run(ctx, "save_session", func(ctx context.Context) error {
		return m.store.SaveSession(ctx, state)
	})
	if err != nil {
		e := m.dlq.Push(state, err)
		zap.L().Error("engine: save session failed",
			zap.String("session_id", state.SessionID),
			zap.String("error_type", e.ErrorType),
			zap.Error(err),
		)
		return eris.Wrapf(err, "engine: persist session %s", state.SessionID)
	}
	m.dlq.Remove(state.SessionID)
	return nil
}

// PersistAll saves every live session and returns how many succeeded.
func (m *Manager) PersistAll(ctx context.Context) (int, error) {
	var errs []error
	saved := 0
	for _, s := range m.snapshot() {
		if err := m.save(ctx, s.Export()); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Sweep evicts idle sessions, persisting them first when configured, retries
// queued saves and, at most hourly, purges expired stored rows. It returns
// the number of evicted sessions.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	idle := time.Duration(m.cfg.Engine.IdleTimeoutMins) * time.Minute

	evicted := 0
	if idle > 0 {
		for _, s := range m.snapshot() {
			if now.Sub(s.LastActive()) < idle {
				continue
			}
			if m.cfg.Engine.PersistOnEvict {
				if err := m.save(ctx, s.Export()); err != nil {
					continue // stays queued; evict on a later sweep
				}
			}
			m.mu.Lock()
			if cur, ok := m.sessions[s.ID()]; ok && cur == s {
				delete(m.sessions, s.ID())
				evicted++
			}
			m.mu.Unlock()
		}
	}

	for _, e := range m.dlq.Due() {
		err := m.policy.Run(ctx, "save_session_retry", func(ctx context.Context) error {
			return m.store.SaveSession(ctx, e.State)
		})
		if err != nil {
			m.dlq.Requeue(e, err)
		}
	}

	if m.store != nil && m.retentionDue(now) {
		n, err := m.store.DeleteExpired(ctx, store.RetentionCutoff(now, m.cfg.Store.RetentionDays))
		if err != nil {
			zap.L().Warn("engine: delete expired failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("engine: deleted expired rows", zap.Int("rows", n))
		}
	}

	if evicted > 0 {
		zap.L().Info("engine: evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}

// retentionDue reports whether a retention purge should run at now and, if
// so, claims it so concurrent sweeps purge once.
func (m *Manager) retentionDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastRetention) < retentionEvery {
		return false
	}
	m.lastRetention = now
	return true
}

// Run sweeps on the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) sweepInterval() time.Duration {
	if m.cfg.Engine.SweepIntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(m.cfg.Engine.SweepIntervalSecs) * time.Second
}

// Stats returns per-session stats sorted by session ID.
func (m *Manager) Stats() []model.SessionStats {
	sessions := m.snapshot()
	out := make([]model.SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// PendingWrites returns the number of queued failed saves.
func (m *Manager) PendingWrites() int { return m.dlq.Len() }

// StoreCircuit reports the store circuit breaker state.
func (m *Manager) StoreCircuit() resilience.CircuitState { return m.policy.Breaker.State() }

// SharedModel returns the shared transition model, or nil.
func (m *Manager) SharedModel() *predict.TransitionModel { return m.shared }

// snapshot returns the live sessions sorted by ID.
func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
