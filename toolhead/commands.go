package toolhead

import (
	"context"
	"fmt"

	"gopper-endstops/gcode"
)

// CommandRegistrar is the part of the dispatcher commands are bound on
type CommandRegistrar interface {
	RegisterCommand(name string, handler gcode.Handler, desc string) error
}

// RegisterCommands binds G4 (dwell, P in milliseconds) and M400 (wait for
// queued moves)
func (th *Toolhead) RegisterCommands(d CommandRegistrar) error {
	if err := d.RegisterCommand("G4", th.cmdG4, ""); err != nil {
		return err
	}
	return d.RegisterCommand("M400", th.cmdM400, "")
}

func (th *Toolhead) cmdG4(ctx context.Context, cmd *gcode.Command) error {
	ms, err := cmd.GetFloat("P", 0)
	if err != nil {
		return err
	}
	if ms < 0 {
		return fmt.Errorf("G4: P must not be negative: %v", ms)
	}
	return th.Dwell(ms / 1000)
}

func (th *Toolhead) cmdM400(ctx context.Context, cmd *gcode.Command) error {
	return th.WaitMoves(ctx)
}
