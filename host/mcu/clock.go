package mcu

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// clockSync maps host time onto the MCU clock.
// The MCU reports a 32-bit clock; it is extended to 64 bits here.
type clockSync struct {
	mu         sync.Mutex
	freq       float64
	overridden bool
	refTime    time.Time
	refClock   uint64
}

func (c *clockSync) reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refTime = now
	c.refClock = 0
}

func (c *clockSync) setDefaultFreq(freq float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.overridden {
		c.freq = freq
	}
}

func (c *clockSync) update(now time.Time, clock32 uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clock := c.refClock&^0xFFFFFFFF | uint64(clock32)
	if clock < c.refClock {
		clock += 1 << 32
	}
	c.refTime = now
	c.refClock = clock
}

func (c *clockSync) estimatedPrintTime(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := now.Sub(c.refTime).Seconds()
	if c.freq == 0 {
		return elapsed
	}
	return float64(c.refClock)/c.freq + elapsed
}

// SetClockFreq overrides the dictionary CLOCK_FREQ
func (m *MCU) SetClockFreq(freq float64) {
	m.clock.mu.Lock()
	defer m.clock.mu.Unlock()
	m.clock.freq = freq
	m.clock.overridden = true
}

// ClockFreq returns the MCU clock frequency in Hz, 0 when unknown
func (m *MCU) ClockFreq() float64 {
	m.clock.mu.Lock()
	defer m.clock.mu.Unlock()
	return m.clock.freq
}

// SyncClock samples the MCU clock with get_clock and re-anchors the
// host→MCU time mapping at the midpoint of the round trip
func (m *MCU) SyncClock(ctx context.Context) error {
	sent := time.Now()
	params, err := m.Request(ctx, "clock", nil, "get_clock")
	if err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	received := time.Now()

	m.clock.update(sent.Add(received.Sub(sent)/2), params.Uint("clock"))
	m.log.Debug("clock synced", "clock", params.Uint("clock"), "rtt", received.Sub(sent))
	return nil
}

// EstimatedPrintTime converts a host instant to MCU print time in seconds
func (m *MCU) EstimatedPrintTime(now time.Time) float64 {
	return m.clock.estimatedPrintTime(now)
}

// PrintTimeToClock converts print time to an MCU clock value
func (m *MCU) PrintTimeToClock(printTime float64) uint64 {
	return uint64(printTime * m.ClockFreq())
}

// WaitPrintTime blocks until the MCU's estimated print time reaches
// printTime, so a command issued afterwards lands at or after that moment
// of the motion timeline
func (m *MCU) WaitPrintTime(ctx context.Context, printTime float64) error {
	wait := printTime - m.EstimatedPrintTime(time.Now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(wait * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
