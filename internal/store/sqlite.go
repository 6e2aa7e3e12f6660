package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/store/migrations"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return eris.Wrap(err, "sqlite: set goose dialect")
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Version returns the applied migration version.
func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, eris.Wrap(err, "sqlite: set goose dialect")
	}
	v, err := goose.GetDBVersionContext(ctx, s.db)
	return v, eris.Wrap(err, "sqlite: migration version")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, state model.SessionState) error {
	if err := validateState(state); err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	state.SavedAt = state.SavedAt.UTC()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session state")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, state, total, correct, saved_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   state = excluded.state, total = excluded.total,
		   correct = excluded.correct, saved_at = excluded.saved_at`,
		state.SessionID, string(stateJSON), state.Accuracy.Total, state.Accuracy.Correct, state.SavedAt,
	)
	return eris.Wrapf(err, "sqlite: save session %s", state.SessionID)
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load session %s", sessionID)
	}

	var state model.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session state")
	}
	return &state, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete session %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSummary, error) {
	query := `SELECT session_id, total, correct, saved_at FROM sessions ORDER BY saved_at DESC, session_id LIMIT ?`
	args := []any{listLimit(filter.Limit)}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var ss model.SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.Accuracy.Total, &ss.Accuracy.Correct, &ss.SavedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, o model.Outcome) error {
	if o.SessionID == "" {
		return model.NewValidationError("session_id", "must not be empty")
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, session_id, component_id, was_predicted, accuracy, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.SessionID, o.ComponentID, o.WasPredicted, o.Accuracy, o.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record outcome for session %s", o.SessionID)
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, sessionID string, limit int) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, component_id, was_predicted, accuracy, recorded_at FROM outcomes
		 WHERE session_id = ? ORDER BY recorded_at DESC, id LIMIT ?`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.ID, &o.SessionID, &o.ComponentID, &o.WasPredicted, &o.Accuracy, &o.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin delete expired")
	}
	defer tx.Rollback() //nolint:errcheck

	cutoff = cutoff.UTC()
	total := 0
	for _, q := range []string{
		`DELETE FROM sessions WHERE saved_at < ?`,
		`DELETE FROM outcomes WHERE recorded_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: delete expired")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit delete expired")
	}
	return total, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
