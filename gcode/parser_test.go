package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassicCommands(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input  string
		name   string
		params map[string]string
	}{
		{
			input:  "G0 X10 Y20",
			name:   "G0",
			params: map[string]string{"X": "10", "Y": "20"},
		},
		{
			input:  "g1 x100.5 Y200.25 F3000",
			name:   "G1",
			params: map[string]string{"X": "100.5", "Y": "200.25", "F": "3000"},
		},
		{
			input:  "G28",
			name:   "G28",
			params: map[string]string{},
		},
		{
			input:  "M119",
			name:   "M119",
			params: map[string]string{},
		},
		{
			input:  "M119 QUIET",
			name:   "M119",
			params: map[string]string{"QUIET": ""},
		},
		{
			input:  "N42 G92 X0 Z-1.5*71",
			name:   "G92",
			params: map[string]string{"X": "0", "Z": "-1.5"},
		},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		require.NoError(t, err, test.input)
		require.NotNil(t, cmd, test.input)

		assert.Equal(t, test.name, cmd.Name, test.input)
		assert.Equal(t, test.params, cmd.Params, test.input)
	}
}

func TestParseExtendedCommands(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input  string
		name   string
		params map[string]string
	}{
		{
			input:  "QUERY_ENDSTOPS",
			name:   "QUERY_ENDSTOPS",
			params: map[string]string{},
		},
		{
			input:  "query_endstops quiet=1",
			name:   "QUERY_ENDSTOPS",
			params: map[string]string{"QUIET": "1"},
		},
		{
			input:  "QUERY_ENDSTOPS QUIET ; check before homing",
			name:   "QUERY_ENDSTOPS",
			params: map[string]string{"QUIET": ""},
		},
		{
			input:  "SET_PIN PIN=fan VALUE=0.5",
			name:   "SET_PIN",
			params: map[string]string{"PIN": "fan", "VALUE": "0.5"},
		},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		require.NoError(t, err, test.input)
		require.NotNil(t, cmd, test.input)

		assert.Equal(t, test.name, cmd.Name, test.input)
		assert.Equal(t, test.params, cmd.Params, test.input)
	}
}

func TestParseComments(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"", "   ", "; just a comment", "N7"} {
		cmd, err := parser.ParseLine(line)
		require.NoError(t, err)
		assert.Nil(t, cmd, "line %q", line)
	}

	cmd, err := parser.ParseLine("G28 X ; home x")
	require.NoError(t, err)
	assert.Equal(t, "; home x", cmd.Comment)
	assert.True(t, cmd.Has("x"))
}

func TestParseMalformed(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParseLine("123 abc")
	assert.Error(t, err)

	_, err = parser.ParseLine("SET_PIN =5")
	assert.Error(t, err)
}

func TestCommandAccessors(t *testing.T) {
	cmd, err := NewParser().ParseLine("G4 P500 S=abc")
	require.NoError(t, err)

	p, err := cmd.GetFloat("p", 0)
	require.NoError(t, err)
	assert.Equal(t, 500.0, p)

	d, err := cmd.GetFloat("X", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, d)

	_, err = cmd.GetFloat("S", 0)
	assert.Error(t, err)

	assert.Equal(t, "abc", cmd.Get("S", ""))
	assert.Equal(t, "dflt", cmd.Get("Q", "dflt"))
}

func TestParseInt(t *testing.T) {
	v, end := parseInt("G-12", 1)
	assert.Equal(t, -12, v)
	assert.Equal(t, 4, end)

	_, end = parseInt("QUERY", 1)
	assert.Equal(t, 1, end)
}
