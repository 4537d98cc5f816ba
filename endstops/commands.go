package endstops

import (
	"context"

	"gopper-endstops/gcode"
)

const (
	cmdQueryEndstops     = "QUERY_ENDSTOPS"
	cmdQueryEndstopsHelp = "Report on the status of each endstop"
	cmdM119              = "M119"
)

// CommandRegistrar is the part of the dispatcher commands are bound on
type CommandRegistrar interface {
	RegisterCommand(name string, handler gcode.Handler, desc string) error
}

// RegisterCommands binds QUERY_ENDSTOPS and its M119 alias to the registry.
// A QUIET parameter, whatever its value, suppresses the report.
func RegisterCommands(d CommandRegistrar, r *Registry) error {
	handler := func(ctx context.Context, cmd *gcode.Command) error {
		return r.Query(ctx, cmd.Has("QUIET"))
	}
	if err := d.RegisterCommand(cmdQueryEndstops, handler, cmdQueryEndstopsHelp); err != nil {
		return err
	}
	return d.RegisterCommand(cmdM119, handler, "")
}
