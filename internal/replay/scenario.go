// Package replay drives recorded or synthetic interaction sequences through
// prefetch sessions and reports how often the prediction would have been
// ready in time.
package replay

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prefetch/internal/model"
)

// DefaultLoadTimeMS is the load cost assumed for components without an
// explicit entry in Scenario.LoadTimeMS.
const DefaultLoadTimeMS = 150.0

// Scenario is a replay file.
type Scenario struct {
	Name string `yaml:"name"`
	// Candidates defaults to every component the steps mention.
	Candidates []string           `yaml:"candidates"`
	Strategy   string             `yaml:"strategy"`
	LoadTimeMS map[string]float64 `yaml:"load_time_ms"`
	Sessions   []Script           `yaml:"sessions"`
}

// Script is one simulated user.
type Script struct {
	ID string `yaml:"id"`
	// Repeat replays Steps this many times; zero means once.
	Repeat int    `yaml:"repeat"`
	Steps  []Step `yaml:"steps"`
}

// Step is one interaction. IfFlag skips the step unless the guard holds;
// Commands run before the interaction is recorded.
type Step struct {
	Component  string                `yaml:"component"`
	Kind       model.InteractionKind `yaml:"kind"`
	GapMS      int                   `yaml:"gap_ms"`
	DurationMS *float64              `yaml:"duration_ms"`
	Coverage   *float64              `yaml:"viewport_coverage"`
	IfFlag     string                `yaml:"if_flag"`
	Commands   CommandList           `yaml:"commands"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read %s", path)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, eris.Wrap(err, "replay: parse scenario")
	}
	if err := sc.normalize(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) normalize() error {
	if len(sc.Sessions) == 0 {
		return eris.New("replay: scenario has no sessions")
	}
	if _, err := model.ParseStrategy(sc.Strategy); err != nil {
		return eris.Wrap(err, "replay: scenario strategy")
	}

	seen := make(map[string]bool)
	mentioned := make(map[string]bool)
	for i := range sc.Sessions {
		s := &sc.Sessions[i]
		if s.ID == "" {
			s.ID = fmt.Sprintf("session-%d", i+1)
		}
		if seen[s.ID] {
			return eris.Errorf("replay: duplicate session id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Repeat <= 0 {
			s.Repeat = 1
		}
		if len(s.Steps) == 0 {
			return eris.Errorf("replay: session %q has no steps", s.ID)
		}
		for j := range s.Steps {
			st := &s.Steps[j]
			st.Component = model.NormalizeComponentID(st.Component)
			if st.Component == "" {
				return eris.Errorf("replay: session %q step %d: component is required", s.ID, j+1)
			}
			if st.Kind == "" {
				st.Kind = model.KindClick
			}
			if st.GapMS < 0 {
				return eris.Errorf("replay: session %q step %d: gap_ms must be >= 0", s.ID, j+1)
			}
			mentioned[st.Component] = true
		}
	}

	if len(sc.Candidates) == 0 {
		for id := range mentioned {
			sc.Candidates = append(sc.Candidates, id)
		}
		sort.Strings(sc.Candidates)
	}
	return nil
}

// loadTime returns the load cost of id in milliseconds.
func (sc *Scenario) loadTime(id string) float64 {
	if ms, ok := sc.LoadTimeMS[id]; ok {
		return ms
	}
	return DefaultLoadTimeMS
}
