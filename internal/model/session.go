package model

import "time"

// Phase is the adaptive threshold controller's warm-up state.
type Phase string

const (
	PhaseCold Phase = "cold"
	PhaseWarm Phase = "warm"
)

// TransitionRow is one normalized outgoing distribution of the transition
// model.
type TransitionRow struct {
	Source  string             `json:"source"`
	Targets map[string]float64 `json:"targets"`
}

// SessionState is the portable part of a session that a host may persist and
// later restore. Interaction history is not included; it expires within the
// retention window anyway.
type SessionState struct {
	SessionID   string          `json:"session_id"`
	Thresholds  Thresholds      `json:"thresholds"`
	Accuracy    Accuracy        `json:"accuracy"`
	Edges       []Edge          `json:"edges"`
	Transitions []TransitionRow `json:"transitions"`
	SavedAt     time.Time       `json:"saved_at"`
}

// SessionStats summarizes a live session for monitoring.
type SessionStats struct {
	SessionID    string     `json:"session_id"`
	Phase        Phase      `json:"phase"`
	Accuracy     Accuracy   `json:"accuracy"`
	Thresholds   Thresholds `json:"thresholds"`
	HistoryLen   int        `json:"history_len"`
	EdgeCount    int        `json:"edge_count"`
	Warnings     int        `json:"warnings"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

// Outcome is one reported prediction outcome, as stored by a host.
type Outcome struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ComponentID  string    `json:"component_id"`
	WasPredicted bool      `json:"was_predicted"`
	Accuracy     float64   `json:"accuracy"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// SessionSummary is a stored session's listing entry.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Accuracy  Accuracy  `json:"accuracy"`
	SavedAt   time.Time `json:"saved_at"`
}
