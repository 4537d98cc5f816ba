package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopper-endstops/protocol"
)

const testConfig = `
toolhead:
  buffer_time_start: 0.01
endstops:
  - name: x_stop
    oid: 0
  - name: z_probe
    oid: 1
    invert: true
  - name: y_stop
    oid: 2
    pin: 5
    pull_up: true
log:
  level: error
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "printer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQueryCommand(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"report", []string{"query"}, "x_stop:open z_probe:TRIGGERED y_stop:TRIGGERED\n"},
		{"quiet", []string{"query", "--quiet"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "", append(tt.args, "--simulate", "--config", cfg)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestQueryCommandJSON(t *testing.T) {
	out, err := run(t, "", "query", "--json", "--simulate", "--config", writeConfig(t))
	require.NoError(t, err)

	var status map[string]map[string]bool
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, map[string]bool{"x_stop": false, "z_probe": true, "y_stop": true}, status["last_query"])
}

func TestQueryCommandBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mcu: {baud: -1}"), 0o644))

	_, err := run(t, "", "query", "--simulate", "--config", path)
	assert.Error(t, err)
}

func TestConsoleCommand(t *testing.T) {
	stdin := "M119\n\ndict\nFOO\nQUERY_ENDSTOPS QUIET\nquit\nM119\n"
	out, err := run(t, stdin, "console", "--simulate", "--config", writeConfig(t))
	require.NoError(t, err)

	assert.Contains(t, out, "x_stop:open z_probe:TRIGGERED y_stop:TRIGGERED\n")
	assert.Contains(t, out, "CLOCK_FREQ")
	assert.Contains(t, out, `!! Unknown command:"FOO"`)
	assert.Equal(t, 1, strings.Count(out, "x_stop:open"))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "gopper-endstops version dev (protocol "+protocol.Version+")\n", out)
}
