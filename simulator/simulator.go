// Package simulator emulates a Gopper MCU speaking the Klipper protocol over
// any byte stream. It serves the data dictionary, the clock and GPIO endstop
// queries, and is used by tests and by the CLI's --simulate mode.
package simulator

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"gopper-endstops/protocol"
)

// DefaultClockFreq is the simulated MCU clock in Hz
const DefaultClockFreq = 12000000

type endstop struct {
	pin    uint32
	pullUp bool
	high   bool
	silent bool
	// latency delays the endstop_state reply; the ACK is not delayed
	latency time.Duration
}

// MCU is a simulated microcontroller
type MCU struct {
	registry *registry
	log      *slog.Logger

	version   string
	clockFreq uint32
	start     time.Time

	dictOnce sync.Once
	dict     []byte
	dictErr  error

	mu        sync.Mutex
	transport *protocol.Transport
	endstops  map[uint8]*endstop
	queries   []uint8
	shutdown  bool
}

// Static string ids sent with shutdown responses
const (
	ShutdownRequested = 1
)

// New creates a simulated MCU with its command set registered
func New(logger *slog.Logger) *MCU {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &MCU{
		registry:  newRegistry(),
		log:       logger.With("component", "simulator"),
		version:   "gopper-sim-" + protocol.Version,
		clockFreq: DefaultClockFreq,
		start:     time.Now(),
		endstops:  make(map[uint8]*endstop),
	}

	// identify_response and identify must get ids 0 and 1
	s.registry.register("identify_response", "offset=%u data=%.*s", nil)
	s.registry.register("identify", "offset=%u count=%c", s.handleIdentify)

	s.registry.register("get_clock", "", s.handleGetClock)
	s.registry.register("clock", "clock=%u", nil)
	s.registry.register("get_uptime", "", s.handleGetUptime)
	s.registry.register("uptime", "high=%u clock=%u", nil)

	s.registry.register("config_endstop", "oid=%c pin=%u pull_up=%c", s.handleConfigEndstop)
	s.registry.register("endstop_query_state", "oid=%c", s.handleEndstopQueryState)
	s.registry.register("endstop_state", "oid=%c homing=%c next_clock=%u pin_value=%c", nil)

	s.registry.register("shutdown", "clock=%u static_string_id=%hu", nil)
	s.registry.register("is_shutdown", "static_string_id=%hu", nil)

	return s
}

// AddEndstop configures a GPIO endstop under oid, pin initially low
func (s *MCU) AddEndstop(oid uint8, pin uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endstops[oid] = &endstop{pin: pin}
}

// SetPin drives the endstop input level
func (s *MCU) SetPin(oid uint8, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if es, ok := s.endstops[oid]; ok {
		es.high = high
	}
}

// SetSilent makes queries for oid go unanswered, as if the sensor hung
func (s *MCU) SetSilent(oid uint8, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if es, ok := s.endstops[oid]; ok {
		es.silent = silent
	}
}

// SetLatency delays replies to queries for oid, as if they were held up on
// the wire after the ACK
func (s *MCU) SetLatency(oid uint8, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if es, ok := s.endstops[oid]; ok {
		es.latency = d
	}
}

// Shutdown puts the MCU into the shutdown state and reports it to the host.
// Later endstop queries are answered with is_shutdown.
func (s *MCU) Shutdown() error {
	s.mu.Lock()
	s.shutdown = true
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return errors.New("simulator not serving")
	}
	return t.SendResponse(s.registry.responseID("shutdown"), func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, s.clock())
		protocol.EncodeVLQUint(output, ShutdownRequested)
	})
}

// Queries returns the oids of every endstop_query_state received, in order
func (s *MCU) Queries() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.queries...)
}

// Pipe starts serving on one end of an in-memory connection and returns the
// other end for the host
func (s *MCU) Pipe() io.ReadWriteCloser {
	host, dev := net.Pipe()
	go func() {
		if err := s.Serve(dev); err != nil {
			s.log.Warn("simulator stopped", "error", err)
		}
	}()
	return host
}

// Serve runs the MCU on conn until it is closed
func (s *MCU) Serve(conn io.ReadWriteCloser) error {
	defer conn.Close()

	t := protocol.NewTransport(conn, s.dispatch)
	t.SetResetCallback(func() { s.log.Debug("host reset sequence") })

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	input := protocol.NewRxBuffer(512)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			input.Write(buf[:n])
			t.Receive(input)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

func (s *MCU) dispatch(cmdID uint16, data *[]byte) error {
	err := s.registry.dispatch(cmdID, data)
	if err != nil {
		s.log.Warn("command failed", "cmd_id", cmdID, "error", err)
	}
	return err
}

func (s *MCU) respond(name string, args func(output protocol.OutputBuffer)) error {
	return s.respondAfter(0, name, args)
}

func (s *MCU) respondAfter(delay time.Duration, name string, args func(output protocol.OutputBuffer)) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if delay > 0 {
		return t.SendResponseAfter(delay, s.registry.responseID(name), args)
	}
	return t.SendResponse(s.registry.responseID(name), args)
}

func (s *MCU) clock() uint32 {
	return uint32(uint64(time.Since(s.start).Seconds() * float64(s.clockFreq)))
}

// handleIdentify serves one chunk of the compressed dictionary
// Format: identify offset=%u count=%c
func (s *MCU) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	s.dictOnce.Do(func() { s.dict, s.dictErr = s.buildDictionary() })
	if s.dictErr != nil {
		return s.dictErr
	}

	start := min(int(offset), len(s.dict))
	end := min(start+int(count), len(s.dict))
	chunk := s.dict[start:end]

	return s.respond("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

// Format: get_clock
func (s *MCU) handleGetClock(data *[]byte) error {
	return s.respond("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, s.clock())
	})
}

// Format: get_uptime
func (s *MCU) handleGetUptime(data *[]byte) error {
	ticks := uint64(time.Since(s.start).Seconds() * float64(s.clockFreq))
	return s.respond("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ticks>>32))
		protocol.EncodeVLQUint(output, uint32(ticks))
	})
}

// handleConfigEndstop configures a GPIO endstop
// Format: config_endstop oid=%c pin=%u pull_up=%c
func (s *MCU) handleConfigEndstop(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pullUp, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A pulled-up input idles high
	s.endstops[uint8(oid)] = &endstop{pin: pin, pullUp: pullUp != 0, high: pullUp != 0}
	return nil
}

// handleEndstopQueryState reports the current pin level
// Format: endstop_query_state oid=%c
func (s *MCU) handleEndstopQueryState(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.queries = append(s.queries, uint8(oid))
	es, exists := s.endstops[uint8(oid)]
	var pinValue uint32
	var latency time.Duration
	silent := false
	if exists {
		if es.high {
			pinValue = 1
		}
		silent = es.silent
		latency = es.latency
	}
	shutdown := s.shutdown
	s.mu.Unlock()

	if shutdown {
		return s.respond("is_shutdown", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, ShutdownRequested)
		})
	}
	if !exists || silent {
		// Unconfigured oids are silently ignored
		return nil
	}

	return s.respondAfter(latency, "endstop_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, 0) // not homing
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, pinValue)
	})
}
