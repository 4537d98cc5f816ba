package endstops_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopper-endstops/endstops"
	"gopper-endstops/gcode"
	"gopper-endstops/host/mcu"
	"gopper-endstops/protocol"
	"gopper-endstops/simulator"
	"gopper-endstops/toolhead"
)

func TestQueryEndstopsOverSimulatedMCU(t *testing.T) {
	sim := simulator.New(nil)
	sim.AddEndstop(0, 10)
	sim.AddEndstop(1, 11)
	sim.AddEndstop(2, 12)
	sim.SetPin(1, true)
	sim.SetPin(2, true)

	m := mcu.NewMCU(nil)
	m.ConnectPort(sim.Pipe())
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	require.NoError(t, m.RetrieveDictionary(ctx))
	require.NoError(t, m.SyncClock(ctx))

	var out bytes.Buffer
	d := gcode.NewDispatcher(&out, nil)
	th := toolhead.New(m, toolhead.WithBufferTimeStart(0.02))
	r := endstops.NewRegistry(th, d)
	r.RegisterEndstop(mcu.NewEndstop(m, 0, false), "x_stop")
	r.RegisterEndstop(mcu.NewEndstop(m, 1, false), "y_stop")
	// inverted: pin high reads as open
	r.RegisterEndstop(mcu.NewEndstop(m, 2, true), "z_probe")
	require.NoError(t, endstops.RegisterCommands(d, r))

	require.NoError(t, d.Run(ctx, "QUERY_ENDSTOPS"))
	assert.Equal(t, "x_stop:open y_stop:TRIGGERED z_probe:open\n", out.String())
	assert.Equal(t, []uint8{0, 1, 2}, sim.Queries())

	sim.SetPin(0, true)
	out.Reset()
	require.NoError(t, d.Run(ctx, "M119 QUIET"))
	assert.Empty(t, out.String())
	assert.Equal(t, map[string]any{
		"last_query": map[string]bool{"x_stop": true, "y_stop": true, "z_probe": false},
	}, r.GetStatus(0))
}

func TestQueryEndstopsMCUTimeout(t *testing.T) {
	sim := simulator.New(nil)
	sim.AddEndstop(0, 10)
	sim.AddEndstop(1, 11)

	m := mcu.NewMCU(nil)
	m.ConnectPort(sim.Pipe())
	m.SetResponseTimeout(100 * time.Millisecond)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	require.NoError(t, m.RetrieveDictionary(ctx))

	var out bytes.Buffer
	d := gcode.NewDispatcher(&out, nil)
	r := endstops.NewRegistry(toolhead.New(m, toolhead.WithBufferTimeStart(0)), d)
	r.RegisterEndstop(mcu.NewEndstop(m, 0, false), "x_stop")
	r.RegisterEndstop(mcu.NewEndstop(m, 1, false), "y_stop")
	require.NoError(t, endstops.RegisterCommands(d, r))

	require.NoError(t, d.Run(ctx, "QUERY_ENDSTOPS QUIET"))
	before := r.LastQuery()

	sim.SetPin(0, true)
	sim.SetSilent(1, true)
	err := d.Run(ctx, "QUERY_ENDSTOPS")
	assert.ErrorIs(t, err, protocol.ErrResponseTimeout)
	assert.Equal(t, before, r.LastQuery())
	assert.Equal(t, "!! "+err.Error()+"\n", out.String())
	assert.Contains(t, out.String(), "query endstop y_stop")
}

func TestQueryEndstopsAfterMCUShutdown(t *testing.T) {
	sim := simulator.New(nil)
	sim.AddEndstop(0, 10)

	m := mcu.NewMCU(nil)
	m.ConnectPort(sim.Pipe())
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	require.NoError(t, m.RetrieveDictionary(ctx))

	var out bytes.Buffer
	d := gcode.NewDispatcher(&out, nil)
	th := toolhead.New(m, toolhead.WithBufferTimeStart(0))
	m.OnShutdown(th.Shutdown)
	r := endstops.NewRegistry(th, d)
	r.RegisterEndstop(mcu.NewEndstop(m, 0, false), "x_stop")
	require.NoError(t, endstops.RegisterCommands(d, r))

	require.NoError(t, d.Run(ctx, "QUERY_ENDSTOPS QUIET"))
	before := r.LastQuery()

	require.NoError(t, sim.Shutdown())
	assert.Eventually(t, func() bool {
		_, err := th.LastMoveTime()
		return err != nil
	}, time.Second, 10*time.Millisecond)

	err := d.Run(ctx, "QUERY_ENDSTOPS")
	assert.ErrorIs(t, err, toolhead.ErrShutdown)
	assert.Equal(t, before, r.LastQuery())
	assert.Equal(t, []uint8{0}, sim.Queries())
}
