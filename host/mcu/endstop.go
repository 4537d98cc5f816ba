package mcu

import (
	"context"
	"fmt"

	"gopper-endstops/protocol"
)

// Endstop is a GPIO endstop configured on the MCU under an object id.
// It reads the pin with endstop_query_state.
type Endstop struct {
	mcu    *MCU
	oid    uint8
	invert bool
}

// NewEndstop binds an endstop already configured on the MCU
func NewEndstop(m *MCU, oid uint8, invert bool) *Endstop {
	return &Endstop{mcu: m, oid: oid, invert: invert}
}

// Configure sends config_endstop, binding the oid to a GPIO pin
func (e *Endstop) Configure(ctx context.Context, pin uint32, pullUp bool) error {
	if err := e.mcu.SendCommand(ctx, "config_endstop", e.oid, pin, pullUp); err != nil {
		return fmt.Errorf("configure endstop oid %d: %w", e.oid, err)
	}
	return nil
}

// OID returns the endstop's object id
func (e *Endstop) OID() uint8 {
	return e.oid
}

// QueryEndstop returns whether the endstop is triggered at printTime.
// It waits for the MCU to reach printTime before reading the pin.
func (e *Endstop) QueryEndstop(ctx context.Context, printTime float64) (bool, error) {
	if err := e.mcu.WaitPrintTime(ctx, printTime); err != nil {
		return false, err
	}

	params, err := e.mcu.Request(ctx, "endstop_state", func(p protocol.Params) bool {
		return p.Uint("oid") == uint32(e.oid)
	}, "endstop_query_state", e.oid)
	if err != nil {
		return false, fmt.Errorf("endstop oid %d: %w", e.oid, err)
	}

	return (params.Int("pin_value") != 0) != e.invert, nil
}
