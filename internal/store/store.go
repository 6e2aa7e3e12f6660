// Package store persists session snapshots and reported outcomes for the
// prefetch server. The host owns a Store's lifecycle: Migrate on startup,
// DeleteExpired on a schedule, Close on shutdown.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
)

// SessionFilter pages through stored sessions, newest first.
type SessionFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for session state.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, state model.SessionState) error
	// LoadSession returns nil, nil when the session is not stored.
	LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSummary, error)

	// Outcomes
	RecordOutcome(ctx context.Context, o model.Outcome) error
	ListOutcomes(ctx context.Context, sessionID string, limit int) ([]model.Outcome, error)

	// DeleteExpired removes sessions saved and outcomes recorded before
	// cutoff and returns the number of rows removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Open creates the Store selected by cfg.Driver. The "none" driver returns a
// nil Store and no error.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// RetentionCutoff returns the DeleteExpired cutoff for a retention in days.
func RetentionCutoff(now time.Time, days int) time.Time {
	if days <= 0 {
		days = 30
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func validateState(state model.SessionState) error {
	if state.SessionID == "" {
		return model.NewValidationError("session_id", "must not be empty")
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
