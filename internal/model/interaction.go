package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// InteractionKind names the kind of user action observed on a component.
type InteractionKind string

const (
	KindClick        InteractionKind = "click"
	KindPointerEnter InteractionKind = "pointer_enter"
	KindFocus        InteractionKind = "focus"
	KindScroll       InteractionKind = "scroll"
	KindPassiveMove  InteractionKind = "passive_motion"
	KindKeypress     InteractionKind = "keypress"
	KindView         InteractionKind = "view"
)

// InteractionEvent is a single observed user action. DurationMS and
// ViewportCoverage are optional.
type InteractionEvent struct {
	ComponentID      string          `json:"component_id"`
	Kind             InteractionKind `json:"kind"`
	DurationMS       *float64        `json:"duration_ms,omitempty"`
	ViewportCoverage *float64        `json:"viewport_coverage,omitempty"` // 0..1
	Timestamp        time.Time       `json:"timestamp"`
}

// InteractionRecord is an event after the tracker has accepted and scored it.
type InteractionRecord struct {
	ID    string           `json:"id"`
	Event InteractionEvent `json:"event"`

	BaseWeight float64       `json:"base_weight"`
	Score      float64       `json:"score"`
	Elapsed    time.Duration `json:"elapsed"` // since session start
}

// ComponentID is a shorthand for r.Event.ComponentID.
func (r InteractionRecord) ComponentID() string {
	return r.Event.ComponentID
}

// Edge is one serialized affinity relation: Target tends to follow Source.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// NormalizeComponentID trims whitespace and applies Unicode NFC so that
// visually identical identifiers map to the same graph node.
func NormalizeComponentID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Float64 returns a pointer to v, for the optional event fields.
func Float64(v float64) *float64 { return &v }
