package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/model"
)

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "checkout.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "checkout-funnel", sc.Name)
	require.Len(t, sc.Sessions, 2)
	assert.Equal(t, 4, sc.Sessions[0].Repeat)
	assert.Equal(t, 1, sc.Sessions[1].Repeat)
	assert.Equal(t, model.KindClick, sc.Sessions[0].Steps[1].Kind)
	assert.Equal(t, []string{"account", "cart", "catalog", "checkout", "home", "login", "product"}, sc.Candidates)
	assert.Equal(t, 340.0, sc.loadTime("product"))
	assert.Equal(t, DefaultLoadTimeMS, sc.loadTime("home"))
	require.Len(t, sc.Sessions[1].Steps[0].Commands, 2)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay: read")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"no sessions", "name: empty", "no sessions"},
		{"bad strategy", "strategy: psychic\nsessions: [{steps: [{component: a}]}]", "strategy"},
		{"duplicate ids", "sessions: [{id: x, steps: [{component: a}]}, {id: x, steps: [{component: b}]}]", "duplicate session id"},
		{"empty steps", "sessions: [{id: x}]", "has no steps"},
		{"blank component", "sessions: [{steps: [{component: '  '}]}]", "component is required"},
		{"negative gap", "sessions: [{steps: [{component: a, gap_ms: -5}]}]", "gap_ms"},
		{"bad yaml", "sessions: [", "parse scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenarioDefaults(t *testing.T) {
	sc, err := ParseScenario([]byte("sessions: [{steps: [{component: b}, {component: a}]}]"))
	require.NoError(t, err)
	assert.Equal(t, "session-1", sc.Sessions[0].ID)
	assert.Equal(t, []string{"a", "b"}, sc.Candidates)
}

func cycleScenario(repeat int) *Scenario {
	steps := []Step{
		{Component: "home"},
		{Component: "catalog", GapMS: 1500},
		{Component: "product", GapMS: 2000},
		{Component: "cart", GapMS: 1000},
		{Component: "checkout", GapMS: 800},
	}
	for i := range steps {
		steps[i].Kind = model.KindClick
	}
	return &Scenario{
		Name:       "cycle",
		Candidates: []string{"cart", "catalog", "checkout", "home", "product"},
		Sessions:   []Script{{ID: "loop", Repeat: repeat, Steps: steps}},
	}
}

func TestRunnerLearnsRepeatedPath(t *testing.T) {
	r := NewRunner(config.Defaults(), 2)
	rep, err := r.Run(context.Background(), cycleScenario(4))
	require.NoError(t, err)

	require.Len(t, rep.Sessions, 1)
	s := rep.Sessions[0]
	assert.Equal(t, 20, s.Steps)
	assert.Equal(t, 19, s.Predictions)
	// Every transition is known from the second round on, except the
	// wrap-around into the second round.
	assert.GreaterOrEqual(t, s.Hits, 14)
	assert.InDelta(t, float64(s.Hits)*DefaultLoadTimeMS, s.SavedMS, 1e-9)
	assert.Equal(t, s.Predictions, s.Accuracy.Total)
	assert.Equal(t, s.Hits, s.Accuracy.Correct)
	assert.InDelta(t, float64(s.Hits)/19, rep.HitRate, 1e-9)
	assert.Equal(t, model.StrategyProbabilistic, rep.Strategy)
}

func TestRunnerDeterministic(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "checkout.yaml"))
	require.NoError(t, err)

	r := NewRunner(config.Defaults(), 4)
	first, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := r.Run(context.Background(), sc)
		require.NoError(t, err)
		assert.Equal(t, first.Sessions, again.Sessions)
	}
}

func TestRunnerGuardsAndCommands(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "checkout.yaml"))
	require.NoError(t, err)

	rep, err := NewRunner(config.Defaults(), 1).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, rep.Sessions, 2)

	browser := rep.Sessions[1]
	assert.Equal(t, "browser", browser.SessionID)
	assert.Equal(t, 3, browser.Steps)
	assert.Equal(t, 1, browser.Skipped)
	assert.Equal(t, 2, browser.Predictions)
	assert.True(t, browser.State.Flags["logged_in"])
	assert.Equal(t, "trial", browser.State.Labels["plan"])
	assert.Equal(t, 1, browser.State.Counters["account_views"])
	assert.Equal(t, 2, browser.State.Counters["cart_items"])

	assert.Equal(t, 23, rep.Steps)
}

func TestRunnerStrategies(t *testing.T) {
	for _, strategy := range []string{"probabilistic", "first_order", "amplified"} {
		t.Run(strategy, func(t *testing.T) {
			sc := cycleScenario(3)
			sc.Strategy = strategy
			rep, err := NewRunner(config.Defaults(), 1).Run(context.Background(), sc)
			require.NoError(t, err)
			assert.Greater(t, rep.Hits, 0)
			for _, s := range rep.Sessions {
				assert.Equal(t, s.Predictions, s.Accuracy.Total)
			}
		})
	}
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(config.Defaults(), 1).Run(ctx, cycleScenario(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}
