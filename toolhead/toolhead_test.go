package toolhead

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock reports a fixed print time the test can move
type fakeClock struct {
	printTime float64
}

func (c *fakeClock) EstimatedPrintTime(time.Time) float64 {
	return c.printTime
}

func TestLastMoveTimeIdlePrimes(t *testing.T) {
	clock := &fakeClock{printTime: 10}
	th := New(clock)

	pt, err := th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 10.25, pt, 1e-9)

	// Still idle, MCU moved on: primes again from the new estimate
	clock.printTime = 20
	pt, err = th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 20.25, pt, 1e-9)
}

func TestLastMoveTimeAfterDwell(t *testing.T) {
	clock := &fakeClock{printTime: 5}
	th := New(clock, WithBufferTimeStart(0.5))

	require.NoError(t, th.Dwell(1))
	require.NoError(t, th.Dwell(2))

	pt, err := th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 8.5, pt, 1e-9)

	// Dwell still executing: no re-priming, timeline unchanged
	clock.printTime = 6
	pt, err = th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 8.5, pt, 1e-9)

	// A later dwell continues from the end of the previous one
	require.NoError(t, th.Dwell(1))
	pt, err = th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 9.5, pt, 1e-9)

	// Everything done: the next request re-primes
	clock.printTime = 12
	pt, err = th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 12.5, pt, 1e-9)
}

func TestDwellZero(t *testing.T) {
	th := New(&fakeClock{printTime: 1})

	require.NoError(t, th.Dwell(0))
	pt, err := th.LastMoveTime()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, pt, 1e-9)
}

func TestShutdownFailsTiming(t *testing.T) {
	th := New(&fakeClock{})
	th.Shutdown("MCU lost")

	_, err := th.LastMoveTime()
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorContains(t, err, "MCU lost")
	assert.ErrorIs(t, th.Dwell(1), ErrShutdown)

	th.Shutdown("second")
	_, err = th.LastMoveTime()
	assert.ErrorContains(t, err, "MCU lost")
}

func TestNoClock(t *testing.T) {
	_, err := New(nil).LastMoveTime()
	assert.Error(t, err)
}

func TestWaitMoves(t *testing.T) {
	start := time.Now()
	th := New(realClock{start}, WithBufferTimeStart(0.02))

	require.NoError(t, th.WaitMoves(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, th.Dwell(30))
	assert.ErrorIs(t, th.WaitMoves(ctx), context.Canceled)
}

// realClock counts print time from start
type realClock struct {
	start time.Time
}

func (c realClock) EstimatedPrintTime(now time.Time) float64 {
	return now.Sub(c.start).Seconds()
}
