package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prefetch/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const saveSessionSQL = `INSERT INTO sessions (session_id, state, total, correct, saved_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id) DO UPDATE SET state = EXCLUDED.state, total = EXCLUDED.total,
correct = EXCLUDED.correct, saved_at = EXCLUDED.saved_at`

const recordOutcomeSQL = `INSERT INTO outcomes (id, session_id, component_id, was_predicted, accuracy, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	// Hot queries go through pgx's per-connection statement cache.
	pgxCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	total      INTEGER NOT NULL DEFAULT 0,
	correct    INTEGER NOT NULL DEFAULT 0,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_saved_at ON sessions(saved_at);

CREATE TABLE IF NOT EXISTS outcomes (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id    TEXT NOT NULL,
	component_id  TEXT NOT NULL,
	was_predicted BOOLEAN NOT NULL,
	accuracy      DOUBLE PRECISION NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outcomes_session ON outcomes(session_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, state model.SessionState) error {
	if err := validateState(state); err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	state.SavedAt = state.SavedAt.UTC()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session state")
	}
	_, err = s.pool.Exec(ctx, saveSessionSQL,
		state.SessionID, stateJSON, state.Accuracy.Total, state.Accuracy.Correct, state.SavedAt,
	)
	return eris.Wrapf(err, "postgres: save session %s", state.SessionID)
}

func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	var stateJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM sessions WHERE session_id = $1`, sessionID).Scan(&stateJSON)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load session %s", sessionID)
	}

	var state model.SessionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session state")
	}
	return &state, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete session %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, total, correct, saved_at FROM sessions
		 ORDER BY saved_at DESC, session_id LIMIT $1 OFFSET $2`,
		listLimit(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var ss model.SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.Accuracy.Total, &ss.Accuracy.Correct, &ss.SavedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, o model.Outcome) error {
	if o.SessionID == "" {
		return model.NewValidationError("session_id", "must not be empty")
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, recordOutcomeSQL,
		o.ID, o.SessionID, o.ComponentID, o.WasPredicted, o.Accuracy, o.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record outcome for session %s", o.SessionID)
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, sessionID string, limit int) ([]model.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, component_id, was_predicted, accuracy, recorded_at FROM outcomes
		 WHERE session_id = $1 ORDER BY recorded_at DESC, id LIMIT $2`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.ID, &o.SessionID, &o.ComponentID, &o.WasPredicted, &o.Accuracy, &o.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin delete expired")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	total := 0
	for _, q := range []string{
		`DELETE FROM sessions WHERE saved_at < $1`,
		`DELETE FROM outcomes WHERE recorded_at < $1`,
	} {
		tag, err := tx.Exec(ctx, q, cutoff.UTC())
		if err != nil {
			return 0, eris.Wrap(err, "postgres: delete expired")
		}
		total += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit delete expired")
	}
	return total, nil
}
