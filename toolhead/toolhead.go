// Package toolhead keeps the host's position on the motion timeline and
// answers "what print time follows everything queued so far".
package toolhead

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultBufferTimeStart is how far ahead of the MCU a fresh motion
// timeline starts
const DefaultBufferTimeStart = 0.250

const stateNeedPrime = "NeedPrime"

// ErrShutdown wraps the reason passed to Shutdown
var ErrShutdown = errors.New("toolhead shutdown")

// Clock maps host time to MCU print time
type Clock interface {
	EstimatedPrintTime(now time.Time) float64
}

// Toolhead tracks printTime, the print time at which the next queued motion
// would start
type Toolhead struct {
	mu    sync.Mutex
	clock Clock
	now   func() time.Time

	bufferTimeStart float64

	printTime    float64
	specialState string
	err          error
}

// Option configures a Toolhead
type Option func(*Toolhead)

// WithBufferTimeStart overrides DefaultBufferTimeStart
func WithBufferTimeStart(seconds float64) Option {
	return func(th *Toolhead) { th.bufferTimeStart = seconds }
}

// WithNow replaces time.Now, for tests
func WithNow(now func() time.Time) Option {
	return func(th *Toolhead) { th.now = now }
}

// New creates an idle toolhead
func New(clock Clock, opts ...Option) *Toolhead {
	th := &Toolhead{
		clock:           clock,
		now:             time.Now,
		bufferTimeStart: DefaultBufferTimeStart,
		specialState:    stateNeedPrime,
	}
	for _, opt := range opts {
		opt(th)
	}
	return th
}

// LastMoveTime returns the print time after all queued dwells. An idle
// toolhead is first primed to the MCU's estimated print time plus the start
// buffer.
func (th *Toolhead) LastMoveTime() (float64, error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.lastMoveTimeLocked()
}

func (th *Toolhead) lastMoveTimeLocked() (float64, error) {
	if th.err != nil {
		return 0, th.err
	}
	if th.clock == nil {
		return 0, errors.New("toolhead has no clock")
	}

	est := th.clock.EstimatedPrintTime(th.now())
	if th.specialState == "" && th.printTime <= est {
		// Everything has executed
		th.specialState = stateNeedPrime
	}
	if th.specialState != "" {
		th.calcPrintTime(est)
	}
	return th.printTime, nil
}

func (th *Toolhead) calcPrintTime(est float64) {
	if minPrintTime := est + th.bufferTimeStart; minPrintTime > th.printTime {
		th.printTime = minPrintTime
	}
}

// Dwell pauses the motion timeline for the given number of seconds
func (th *Toolhead) Dwell(seconds float64) error {
	th.mu.Lock()
	defer th.mu.Unlock()

	pt, err := th.lastMoveTimeLocked()
	if err != nil {
		return err
	}
	if seconds > 0 {
		th.printTime = pt + seconds
		th.specialState = ""
	}
	return nil
}

// WaitMoves blocks until the MCU has reached the end of queued motion
func (th *Toolhead) WaitMoves(ctx context.Context) error {
	pt, err := th.LastMoveTime()
	if err != nil {
		return err
	}

	for {
		wait := pt - th.clock.EstimatedPrintTime(th.now())
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(time.Duration(wait * float64(time.Second)))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Shutdown makes every later timing request fail with reason. The first
// reason is kept.
func (th *Toolhead) Shutdown(reason string) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.err == nil {
		th.err = fmt.Errorf("%w: %s", ErrShutdown, reason)
	}
}
