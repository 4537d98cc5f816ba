package gcode

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopper-endstops/logging"
)

func TestDispatcherRoutesCommands(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)

	var got *Command
	require.NoError(t, d.RegisterCommand("query_endstops", func(ctx context.Context, cmd *Command) error {
		got = cmd
		return d.Respond("x:open")
	}, "Report on the status of each endstop"))

	require.NoError(t, d.Run(context.Background(), "QUERY_ENDSTOPS QUIET=1"))
	require.NotNil(t, got)
	assert.True(t, got.Has("QUIET"))
	assert.Equal(t, "x:open\n", out.String())
}

func TestDispatcherDuplicate(t *testing.T) {
	d := NewDispatcher(nil, nil)
	noop := func(context.Context, *Command) error { return nil }

	require.NoError(t, d.RegisterCommand("M119", noop, ""))
	assert.ErrorIs(t, d.RegisterCommand("m119", noop, ""), ErrDuplicateCommand)
	assert.ErrorIs(t, d.RegisterCommand("HELP", noop, ""), ErrDuplicateCommand)
}

func TestDispatcherUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)

	err := d.Run(context.Background(), "G28")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "!! Unknown command:\"G28\"\n", out.String())
}

func TestDispatcherHandlerError(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)
	boom := errors.New("endstop read failed")

	require.NoError(t, d.RegisterCommand("FAIL", func(context.Context, *Command) error {
		return boom
	}, ""))

	assert.ErrorIs(t, d.Run(context.Background(), "FAIL"), boom)
	assert.Equal(t, "!! endstop read failed\n", out.String())
}

func TestDispatcherBlankLine(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)

	assert.NoError(t, d.Run(context.Background(), "   ; nothing"))
	assert.Empty(t, out.String())
}

func TestDispatcherRunScriptCapturesOutput(t *testing.T) {
	var out, script bytes.Buffer
	d := NewDispatcher(&out, nil)
	require.NoError(t, d.RegisterCommand("ECHO", func(ctx context.Context, cmd *Command) error {
		return d.Respond(cmd.Get("MSG", ""))
	}, ""))

	require.NoError(t, d.RunScript(context.Background(), "ECHO MSG=hi", &script))
	assert.Equal(t, "hi\n", script.String())
	assert.Empty(t, out.String())

	// Back to the default output afterwards
	require.NoError(t, d.Respond("later"))
	assert.Equal(t, "later\n", out.String())
}

func TestDispatcherHelp(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)
	noop := func(context.Context, *Command) error { return nil }

	require.NoError(t, d.RegisterCommand("QUERY_ENDSTOPS", noop, "Report on the status of each endstop"))
	require.NoError(t, d.RegisterCommand("M119", noop, ""))

	require.NoError(t, d.Run(context.Background(), "HELP"))
	help := out.String()
	assert.True(t, strings.HasPrefix(help, "// Available extended commands:\n"))
	assert.Contains(t, help, "// QUERY_ENDSTOPS: Report on the status of each endstop")
	assert.NotContains(t, help, "M119")

	assert.Equal(t, []string{"HELP", "M119", "QUERY_ENDSTOPS"}, d.Commands())
}

func TestRespondInfoMultiline(t *testing.T) {
	var out bytes.Buffer
	d := NewDispatcher(&out, nil)

	require.NoError(t, d.RespondInfo("a\nb"))
	assert.Equal(t, "// a\n// b\n", out.String())
}

// shortWriter accepts n writes, then fails
type shortWriter struct {
	n   int
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("console closed")
	}
	w.n--
	return w.buf.Write(p)
}

func TestRespondErrorLogsWriteFailures(t *testing.T) {
	tests := []struct {
		name    string
		writes  int
		wantOut string
		wantLog string
	}{
		{"first line", 0, "", "failed to report error"},
		{"detail lines", 1, "!! bad\n", "failed to report error detail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			w := &shortWriter{n: tt.writes}
			d := NewDispatcher(w, logging.NewWriter(&logs, slog.LevelDebug))

			d.RespondError("bad\nmore context")
			assert.Equal(t, tt.wantOut, w.buf.String())
			assert.Contains(t, logs.String(), tt.wantLog)
			assert.Contains(t, logs.String(), "err=\"console closed\"")
		})
	}
}
