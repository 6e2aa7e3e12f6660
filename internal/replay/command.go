package replay

import (
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// State is the typed per-session state that scenario commands mutate and
// step guards read.
type State struct {
	Flags    map[string]bool   `json:"flags,omitempty"`
	Counters map[string]int    `json:"counters,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		Flags:    make(map[string]bool),
		Counters: make(map[string]int),
		Labels:   make(map[string]string),
	}
}

// Command is one state mutation. The concrete types are SetField,
// ToggleField and IncrementField.
type Command interface {
	command()
}

// SetField sets a label.
type SetField struct {
	Field string
	Value string
}

// ToggleField flips a flag. Unset flags start false.
type ToggleField struct {
	Field string
}

// IncrementField adds By to a counter.
type IncrementField struct {
	Field string
	By    int
}

func (SetField) command()       {}
func (ToggleField) command()    {}
func (IncrementField) command() {}

// Apply runs cmd against s.
func Apply(s *State, cmd Command) error {
	switch c := cmd.(type) {
	case SetField:
		if c.Field == "" {
			return eris.New("replay: set: field is required")
		}
		s.Labels[c.Field] = c.Value
	case ToggleField:
		if c.Field == "" {
			return eris.New("replay: toggle: field is required")
		}
		s.Flags[c.Field] = !s.Flags[c.Field]
	case IncrementField:
		if c.Field == "" {
			return eris.New("replay: increment: field is required")
		}
		s.Counters[c.Field] += c.By
	default:
		return eris.Errorf("replay: unknown command %T", cmd)
	}
	return nil
}

// Guard evaluates an if_flag expression: "name" requires the flag set,
// "!name" requires it unset. An empty guard always passes.
func (s *State) Guard(expr string) bool {
	switch {
	case expr == "":
		return true
	case expr[0] == '!':
		return !s.Flags[expr[1:]]
	default:
		return s.Flags[expr]
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := NewState()
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	for k, v := range s.Counters {
		out.Counters[k] = v
	}
	for k, v := range s.Labels {
		out.Labels[k] = v
	}
	return out
}

// commandSpec is the YAML form of a command: exactly one of the keys.
//
//   - set: {field: plan, value: pro}
//   - toggle: {field: logged_in}
//   - increment: {field: cart_items, by: 2}
type commandSpec struct {
	Set *struct {
		Field string `yaml:"field"`
		Value string `yaml:"value"`
	} `yaml:"set"`
	Toggle *struct {
		Field string `yaml:"field"`
	} `yaml:"toggle"`
	Increment *struct {
		Field string `yaml:"field"`
		By    *int   `yaml:"by"`
	} `yaml:"increment"`
}

// CommandList decodes a YAML list of commands.
type CommandList []Command

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *CommandList) UnmarshalYAML(node *yaml.Node) error {
	var raw []commandSpec
	if err := node.Decode(&raw); err != nil {
		return eris.Wrap(err, "replay: decode commands")
	}
	out := make(CommandList, 0, len(raw))
	for i, rc := range raw {
		cmd, err := rc.command()
		if err != nil {
			return eris.Wrapf(err, "replay: command %d (line %d)", i, node.Line)
		}
		out = append(out, cmd)
	}
	*l = out
	return nil
}

func (c commandSpec) command() (Command, error) {
	var found []string
	var cmd Command
	if c.Set != nil {
		found = append(found, "set")
		cmd = SetField{Field: c.Set.Field, Value: c.Set.Value}
	}
	if c.Toggle != nil {
		found = append(found, "toggle")
		cmd = ToggleField{Field: c.Toggle.Field}
	}
	if c.Increment != nil {
		found = append(found, "increment")
		by := 1
		if c.Increment.By != nil {
			by = *c.Increment.By
		}
		cmd = IncrementField{Field: c.Increment.Field, By: by}
	}
	if len(found) != 1 {
		sort.Strings(found)
		return nil, eris.Errorf("want exactly one of set, toggle, increment; got %v", found)
	}
	return cmd, nil
}
