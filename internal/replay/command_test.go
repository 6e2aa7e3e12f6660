package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestApply(t *testing.T) {
	s := NewState()

	require.NoError(t, Apply(s, SetField{Field: "plan", Value: "pro"}))
	require.NoError(t, Apply(s, ToggleField{Field: "logged_in"}))
	require.NoError(t, Apply(s, IncrementField{Field: "cart", By: 2}))
	require.NoError(t, Apply(s, IncrementField{Field: "cart", By: 3}))

	assert.Equal(t, "pro", s.Labels["plan"])
	assert.True(t, s.Flags["logged_in"])
	assert.Equal(t, 5, s.Counters["cart"])

	require.NoError(t, Apply(s, ToggleField{Field: "logged_in"}))
	assert.False(t, s.Flags["logged_in"])
}

func TestApplyRejectsEmptyField(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"set", SetField{Value: "x"}},
		{"toggle", ToggleField{}},
		{"increment", IncrementField{By: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Apply(NewState(), tt.cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "field is required")
		})
	}
}

func TestGuard(t *testing.T) {
	s := NewState()
	s.Flags["on"] = true

	assert.True(t, s.Guard(""))
	assert.True(t, s.Guard("on"))
	assert.False(t, s.Guard("!on"))
	assert.False(t, s.Guard("off"))
	assert.True(t, s.Guard("!off"))
}

func TestCloneIsDeep(t *testing.T) {
	s := NewState()
	s.Counters["n"] = 1
	c := s.Clone()
	s.Counters["n"] = 2
	assert.Equal(t, 1, c.Counters["n"])
}

func TestCommandListYAML(t *testing.T) {
	src := `
- set: {field: plan, value: pro}
- toggle: {field: logged_in}
- increment: {field: cart}
- increment: {field: cart, by: -2}
`
	var got CommandList
	require.NoError(t, yaml.Unmarshal([]byte(src), &got))
	assert.Equal(t, CommandList{
		SetField{Field: "plan", Value: "pro"},
		ToggleField{Field: "logged_in"},
		IncrementField{Field: "cart", By: 1},
		IncrementField{Field: "cart", By: -2},
	}, got)
}

func TestCommandListYAMLRejectsAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"two verbs", "- {set: {field: a, value: b}, toggle: {field: c}}"},
		{"no verb", "- {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got CommandList
			err := yaml.Unmarshal([]byte(tt.src), &got)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "want exactly one of")
		})
	}
}
