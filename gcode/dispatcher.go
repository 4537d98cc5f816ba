// Package gcode parses operator command lines and dispatches them to
// registered handlers. The dispatcher is also the channel responses are
// written back through.
package gcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateCommand = errors.New("command already registered")
)

// Handler runs one command
type Handler func(ctx context.Context, cmd *Command) error

type registration struct {
	handler Handler
	desc    string
}

// Dispatcher routes parsed lines to handlers by command name.
// Commands run one at a time.
type Dispatcher struct {
	parser *Parser
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]registration

	// runMu serializes command execution
	runMu sync.Mutex

	outMu   sync.Mutex
	out     io.Writer
	current io.Writer
}

// NewDispatcher creates a dispatcher writing responses to out.
// HELP is registered automatically.
func NewDispatcher(out io.Writer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out == nil {
		out = io.Discard
	}

	d := &Dispatcher{
		parser:   NewParser(),
		log:      logger.With("component", "gcode"),
		handlers: make(map[string]registration),
		out:      out,
	}
	d.handlers["HELP"] = registration{handler: d.cmdHelp, desc: "Report the list of available extended G-Code commands"}
	return d
}

// RegisterCommand binds name to handler. Commands registered with an empty
// description are not listed by HELP.
func (d *Dispatcher) RegisterCommand(name string, handler Handler, desc string) error {
	name = strings.ToUpper(name)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	d.handlers[name] = registration{handler: handler, desc: desc}
	return nil
}

// Commands returns every registered command name, sorted
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run parses and executes one line, responding to the default output
func (d *Dispatcher) Run(ctx context.Context, line string) error {
	return d.RunScript(ctx, line, nil)
}

// RunScript executes one line with responses written to w (the default
// output when w is nil). Handler failures are reported to the operator as
// "!! message" and returned.
func (d *Dispatcher) RunScript(ctx context.Context, line string, w io.Writer) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if w != nil {
		d.outMu.Lock()
		d.current = w
		d.outMu.Unlock()
		defer func() {
			d.outMu.Lock()
			d.current = nil
			d.outMu.Unlock()
		}()
	}

	cmd, err := d.parser.ParseLine(line)
	if err != nil {
		d.RespondError(err.Error())
		return err
	}
	if cmd == nil {
		return nil
	}

	d.mu.RLock()
	reg, ok := d.handlers[cmd.Name]
	d.mu.RUnlock()

	if !ok {
		d.RespondError(fmt.Sprintf("Unknown command:\"%s\"", cmd.Name))
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}

	d.log.Debug("running command", "command", cmd.Name, "params", cmd.Params)
	if err := reg.handler(ctx, cmd); err != nil {
		d.log.Warn("command failed", "command", cmd.Name, "error", err)
		d.RespondError(err.Error())
		return err
	}
	return nil
}

// Respond delivers one pre-formatted line to the operator
func (d *Dispatcher) Respond(msg string) error {
	d.outMu.Lock()
	defer d.outMu.Unlock()

	w := d.out
	if d.current != nil {
		w = d.current
	}
	_, err := io.WriteString(w, msg+"\n")
	return err
}

// RespondInfo sends an informational message, each line prefixed with "// "
func (d *Dispatcher) RespondInfo(msg string) error {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	for i, l := range lines {
		lines[i] = "// " + l
	}
	return d.Respond(strings.Join(lines, "\n"))
}

// RespondError sends an error message prefixed with "!! "
func (d *Dispatcher) RespondError(msg string) {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	if err := d.Respond("!! " + lines[0]); err != nil {
		d.log.Error("failed to report error", "error", err)
		return
	}
	if len(lines) > 1 {
		if err := d.RespondInfo(strings.Join(lines[1:], "\n")); err != nil {
			d.log.Error("failed to report error detail", "error", err)
		}
	}
}

func (d *Dispatcher) cmdHelp(ctx context.Context, cmd *Command) error {
	d.mu.RLock()
	var lines []string
	for name, reg := range d.handlers {
		if reg.desc != "" {
			lines = append(lines, fmt.Sprintf("%-10s: %s", name, reg.desc))
		}
	}
	d.mu.RUnlock()

	sort.Strings(lines)
	return d.RespondInfo("Available extended commands:\n" + strings.Join(lines, "\n"))
}
