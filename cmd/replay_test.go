package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/replay"
)

const testScenario = `
name: smoke
sessions:
  - id: loop
    repeat: 3
    steps:
      - component: home
      - component: catalog
        gap_ms: 1000
      - component: product
        gap_ms: 1000
      - component: cart
        gap_ms: 1000
      - component: checkout
        gap_ms: 1000
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenario), 0644))
	return path
}

func resetReplayFlags(t *testing.T) {
	t.Cleanup(func() {
		replayJSON = false
		replayStrategy = ""
		replayParallel = 4
	})
}

func TestRunReplay_Table(t *testing.T) {
	resetReplayFlags(t)
	var buf bytes.Buffer
	err := runReplay(context.Background(), config.Defaults(), writeScenario(t), &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "loop")
	assert.Contains(t, out, "smoke (probabilistic): 15 steps")
}

func TestRunReplay_JSON(t *testing.T) {
	resetReplayFlags(t)
	replayJSON = true
	replayStrategy = "first_order"

	var buf bytes.Buffer
	err := runReplay(context.Background(), config.Defaults(), writeScenario(t), &buf)
	require.NoError(t, err)

	var rep replay.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, "smoke", rep.Scenario)
	assert.EqualValues(t, "first_order", rep.Strategy)
	assert.Equal(t, 15, rep.Steps)
	assert.Greater(t, rep.Hits, 0)
}

func TestRunReplay_Errors(t *testing.T) {
	resetReplayFlags(t)

	err := runReplay(context.Background(), config.Defaults(), filepath.Join(t.TempDir(), "missing.yaml"), &bytes.Buffer{})
	require.Error(t, err)

	replayStrategy = "psychic"
	err = runReplay(context.Background(), config.Defaults(), writeScenario(t), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")
}
