package replay

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/engine"
	"github.com/sells-group/prefetch/internal/model"
)

// epoch anchors every replayed session so runs are reproducible.
var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// SessionReport is the outcome of one replayed script.
type SessionReport struct {
	SessionID   string           `json:"session_id"`
	Steps       int              `json:"steps"`
	Skipped     int              `json:"skipped"`
	Predictions int              `json:"predictions"`
	Hits        int              `json:"hits"`
	HitRate     float64          `json:"hit_rate"`
	SavedMS     float64          `json:"saved_ms"`
	WastedMS    float64          `json:"wasted_ms"`
	Accuracy    model.Accuracy   `json:"accuracy"`
	Thresholds  model.Thresholds `json:"thresholds"`
	Phase       model.Phase      `json:"phase"`
	State       *State           `json:"state"`
}

// Report aggregates every session of a scenario run.
type Report struct {
	Scenario string          `json:"scenario"`
	Strategy model.Strategy  `json:"strategy"`
	Sessions []SessionReport `json:"sessions"`
	Steps    int             `json:"steps"`
	Hits     int             `json:"hits"`
	HitRate  float64         `json:"hit_rate"`
	SavedMS  float64         `json:"saved_ms"`
	WastedMS float64         `json:"wasted_ms"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// Runner replays scenarios through fresh engine sessions.
type Runner struct {
	cfg   *config.Config
	limit int
}

// NewRunner creates a Runner that replays at most limit sessions at once.
func NewRunner(cfg *config.Config, limit int) *Runner {
	if limit <= 0 {
		limit = 4
	}
	return &Runner{cfg: cfg, limit: limit}
}

// Run replays every session of sc. Sessions are independent; their reports
// keep scenario order.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	start := time.Now()
	strategy, err := model.ParseStrategy(sc.Strategy)
	if err != nil {
		return nil, eris.Wrap(err, "replay: strategy")
	}

	reports := make([]SessionReport, len(sc.Sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, script := range sc.Sessions {
		g.Go(func() error {
			rep, err := r.replay(gctx, sc, script, strategy)
			if err != nil {
				return eris.Wrapf(err, "replay: session %s", script.ID)
			}
			reports[i] = *rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Report{Scenario: sc.Name, Strategy: strategy, Sessions: reports}
	predicted := 0
	for _, rep := range reports {
		out.Steps += rep.Steps
		out.Hits += rep.Hits
		out.SavedMS += rep.SavedMS
		out.WastedMS += rep.WastedMS
		predicted += rep.Predictions
	}
	if predicted > 0 {
		out.HitRate = float64(out.Hits) / float64(predicted)
	}
	out.Elapsed = time.Since(start)

	zap.L().Info("replay: scenario complete",
		zap.String("scenario", sc.Name),
		zap.Int("sessions", len(reports)),
		zap.Int("steps", out.Steps),
		zap.Float64("hit_rate", out.HitRate),
		zap.Float64("saved_ms", out.SavedMS),
	)
	return out, nil
}

// replay runs one script. Before each step after the first, the session
// predicts over the candidates; the step's component counts as a hit when
// it was in the set, and every other predicted component as a wasted load.
func (r *Runner) replay(ctx context.Context, sc *Scenario, script Script, strategy model.Strategy) (*SessionReport, error) {
	now := epoch
	clock := func() time.Time { return now }

	sess, err := engine.NewSession(script.ID, r.cfg, engine.WithClock(clock))
	if err != nil {
		return nil, err
	}
	state := NewState()
	rep := &SessionReport{SessionID: script.ID}

	for round := 0; round < script.Repeat; round++ {
		for _, step := range script.Steps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			now = now.Add(time.Duration(step.GapMS) * time.Millisecond)

			if !state.Guard(step.IfFlag) {
				rep.Skipped++
				continue
			}
			for _, cmd := range step.Commands {
				if err := Apply(state, cmd); err != nil {
					return nil, err
				}
			}

			if rep.Steps > 0 {
				set := sess.PredictNext(sc.Candidates, strategy)
				hit := set.Contains(step.Component)
				sess.ReportOutcome(step.Component, hit)
				rep.Predictions++
				if hit {
					rep.Hits++
					rep.SavedMS += sc.loadTime(step.Component)
				}
				for _, p := range set {
					if p.ComponentID != step.Component {
						rep.WastedMS += sc.loadTime(p.ComponentID)
					}
				}
			}

			if _, err := sess.RecordInteraction(model.InteractionEvent{
				ComponentID:      step.Component,
				Kind:             step.Kind,
				DurationMS:       step.DurationMS,
				ViewportCoverage: step.Coverage,
				Timestamp:        now,
			}); err != nil {
				return nil, err
			}
			rep.Steps++
		}
	}

	if rep.Predictions > 0 {
		rep.HitRate = float64(rep.Hits) / float64(rep.Predictions)
	}
	rep.Accuracy = sess.Accuracy()
	rep.Thresholds = sess.Thresholds()
	rep.Phase = sess.Phase()
	rep.State = state.Clone()
	return rep, nil
}
