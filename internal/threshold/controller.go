// Package threshold keeps the high/medium/low priority cut-points calibrated
// to observed prediction accuracy.
package threshold

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
)

// DefaultWarmup is the number of outcomes observed before any adjustment.
const DefaultWarmup = 50

const (
	looseningAccuracy  = 0.85
	tighteningAccuracy = 0.65
	loosenFactor       = 0.95
	tightenFactor      = 1.05
)

var (
	// Defaults are the initial thresholds.
	Defaults = model.Thresholds{High: 0.75, Medium: 0.40, Low: 0.20}
	// Floors bound how far high accuracy can loosen gating.
	Floors = model.Thresholds{High: 0.6, Medium: 0.3, Low: 0.1}
	// Ceilings bound how far low accuracy can tighten gating.
	Ceilings = model.Thresholds{High: 0.9, Medium: 0.6, Low: 0.3}
)

// Controller tracks accuracy and adjusts thresholds once warm. Phase moves
// from cold to warm exactly once; only Reset returns it to cold.
type Controller struct {
	mu          sync.RWMutex
	initial     model.Thresholds
	current     model.Thresholds
	acc         model.Accuracy
	warmup      int
	adjustments int
}

// New creates a Controller from cfg. Zero thresholds select Defaults. The
// initial values are clamped into [Floors, Ceilings].
func New(cfg config.ThresholdConfig) (*Controller, error) {
	initial := model.Thresholds{High: cfg.High, Medium: cfg.Medium, Low: cfg.Low}
	if initial == (model.Thresholds{}) {
		initial = Defaults
	}
	for name, v := range map[string]float64{"high": initial.High, "medium": initial.Medium, "low": initial.Low} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return nil, model.NewValidationError("thresholds."+name, "must be within [0,1], got %v", v)
		}
	}
	if initial.High < initial.Medium || initial.Medium < initial.Low {
		return nil, model.NewValidationError("thresholds", "must satisfy high >= medium >= low, got %v/%v/%v",
			initial.High, initial.Medium, initial.Low)
	}
	initial = bound(initial)

	warmup := cfg.WarmupOutcomes
	if warmup <= 0 {
		warmup = DefaultWarmup
	}
	return &Controller{initial: initial, current: initial, warmup: warmup}, nil
}

// NewDefault creates a Controller with Defaults and DefaultWarmup.
func NewDefault() *Controller {
	c, _ := New(config.ThresholdConfig{})
	return c
}

// ReportOutcome records whether componentID had been predicted and returns
// the updated accuracy. Once warm, every report may move the thresholds.
func (c *Controller) ReportOutcome(componentID string, wasPredicted bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acc.Total++
	if wasPredicted {
		c.acc.Correct++
	}
	rate := c.acc.Rate()

	if c.acc.Total < c.warmup {
		return rate
	}

	before := c.current
	switch {
	case rate > looseningAccuracy:
		c.current = bound(scale(c.current, loosenFactor))
	case rate < tighteningAccuracy:
		c.current = bound(scale(c.current, tightenFactor))
	}
	if c.current != before {
		c.adjustments++
		zap.L().Debug("threshold: adjusted",
			zap.String("component_id", componentID),
			zap.Float64("accuracy", rate),
			zap.Float64("high", c.current.High),
			zap.Float64("medium", c.current.Medium),
			zap.Float64("low", c.current.Low),
		)
	}
	return rate
}

// Thresholds returns the current thresholds.
func (c *Controller) Thresholds() model.Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Accuracy returns the running outcome counts.
func (c *Controller) Accuracy() model.Accuracy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acc
}

// Phase reports whether the controller is still warming up.
func (c *Controller) Phase() model.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.acc.Total < c.warmup {
		return model.PhaseCold
	}
	return model.PhaseWarm
}

// Adjustments returns how many reports changed the thresholds.
func (c *Controller) Adjustments() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adjustments
}

// Restore loads persisted thresholds and counts. Values are re-bounded so a
// corrupt record cannot break the ordering invariant.
func (c *Controller) Restore(t model.Thresholds, acc model.Accuracy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc.Total < 0 || acc.Correct < 0 || acc.Correct > acc.Total {
		acc = model.Accuracy{}
	}
	c.current = bound(t)
	c.acc = acc
}

// Reset returns to the cold phase with the initial thresholds.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.initial
	c.acc = model.Accuracy{}
	c.adjustments = 0
}

func scale(t model.Thresholds, f float64) model.Thresholds {
	return model.Thresholds{High: t.High * f, Medium: t.Medium * f, Low: t.Low * f}
}

// bound clamps each threshold into its floor/ceiling and re-asserts
// high >= medium >= low.
func bound(t model.Thresholds) model.Thresholds {
	t.High = clamp(t.High, Floors.High, Ceilings.High)
	t.Medium = clamp(t.Medium, Floors.Medium, Ceilings.Medium)
	t.Low = clamp(t.Low, Floors.Low, Ceilings.Low)
	if t.Medium > t.High {
		t.Medium = t.High
	}
	if t.Low > t.Medium {
		t.Low = t.Medium
	}
	return t
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
