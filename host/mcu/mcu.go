package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gopper-endstops/host/serial"
	"gopper-endstops/protocol"
)

var (
	ErrNotConnected     = errors.New("not connected to MCU")
	ErrNoDictionary     = errors.New("dictionary not loaded")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnexpectedFormat = errors.New("unexpected response")
	ErrShutdown         = errors.New("MCU is shut down")
)

const (
	// identify / identify_response have fixed ids so the dictionary can be
	// fetched before it is known
	identifyCmdID      = 1
	identifyResponseID = 0
	identifyChunkSize  = 40

	// DefaultResponseTimeout bounds Request waits
	DefaultResponseTimeout = time.Second
)

// MCU represents a connection to a Klipper microcontroller
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser
	log       *slog.Logger

	dictionary     atomic.Pointer[Dictionary]
	dictionaryData []byte

	// requestMu keeps one command/response exchange in flight
	requestMu sync.Mutex

	clock clockSync

	responseTimeout time.Duration

	onShutdown atomic.Pointer[func(reason string)]

	connected bool
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU(logger *slog.Logger) *MCU {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &MCU{
		log:             logger.With("component", "mcu"),
		responseTimeout: DefaultResponseTimeout,
	}
	m.clock.reset(time.Now())
	return m
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		m.log.Debug("flush failed", "error", err)
	}

	m.log.Info("serial port opened", "device", cfg.Device, "baud", cfg.Baud)
	m.ConnectPort(port)

	// Give the MCU time to initialize if it just powered on
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort attaches the MCU to an already open byte stream
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port, m.log)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// SetResponseTimeout changes how long Request waits for a response
func (m *MCU) SetResponseTimeout(d time.Duration) {
	m.responseTimeout = d
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

// RetrieveDictionary fetches the data dictionary from the MCU in chunks
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	if !m.connected {
		return ErrNotConnected
	}

	m.log.Info("retrieving dictionary")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	for i := 0; i < 1000; i++ {
		chunk, err := m.sendIdentify(ctx, offset, identifyChunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < identifyChunkSize {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()

	dict, err := ParseDictionary(m.dictionaryData)
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.dictionary.Store(dict)

	if freq, err := dict.ClockFreq(); err == nil {
		m.clock.setDefaultFreq(freq)
	} else {
		m.log.Warn("no usable clock frequency in dictionary", "error", err)
	}

	m.log.Info("dictionary retrieved",
		"bytes", len(m.dictionaryData),
		"version", dict.Version,
		"commands", len(dict.Commands),
		"responses", len(dict.Responses),
	)
	return nil
}

// sendIdentify requests one dictionary chunk
func (m *MCU) sendIdentify(ctx context.Context, offset uint32, count uint8) ([]byte, error) {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	scratch := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(scratch, identifyCmdID)
	protocol.EncodeVLQUint(scratch, offset)
	protocol.EncodeVLQUint(scratch, uint32(count))

	m.discardStale()
	seq, err := m.transport.SendPayload(ctx, scratch.Result(), protocol.DefaultAckTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	for {
		resp, err := m.transport.ReceiveResponse(ctx, m.responseTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to receive identify response: %w", err)
		}
		if resp.Sequence != seq {
			continue
		}

		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response command ID: %w", err)
		}
		if cmdID != identifyResponseID {
			m.log.Debug("skipping response while identifying", "cmd_id", cmdID)
			continue
		}

		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response offset: %w", err)
		}
		if respOffset != offset {
			return nil, fmt.Errorf("%w: offset mismatch: expected %d, got %d", ErrUnexpectedFormat, offset, respOffset)
		}

		data, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
		return append([]byte(nil), data...), nil
	}
}

// OnShutdown registers fn to be called from the read loop when the MCU
// reports a shutdown
func (m *MCU) OnShutdown(fn func(reason string)) {
	m.onShutdown.Store(&fn)
}

// handleResponse logs asynchronous MCU output and forwards shutdowns
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	dict := m.dictionary.Load()
	if dict == nil {
		return nil
	}
	name, ok := dict.ResponseName(cmdID)
	if !ok {
		m.log.Debug("unknown response", "cmd_id", cmdID)
		return nil
	}
	if !isShutdown(name) {
		m.log.Debug("response", "name", name)
		return nil
	}

	reason := "MCU shutdown"
	if msg, err := dict.lookup(name); err == nil {
		if params, err := msg.format.Decode(data); err == nil {
			reason = fmt.Sprintf("MCU shutdown (static_string_id=%d)", params.Uint("static_string_id"))
		}
	}
	m.log.Error("mcu reported shutdown", "response", name, "reason", reason)
	if fn := m.onShutdown.Load(); fn != nil {
		(*fn)(reason)
	}
	return nil
}

func isShutdown(name string) bool {
	return name == "shutdown" || name == "is_shutdown"
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary.Load()
}

// DictionaryRaw returns the raw dictionary data as received
func (m *MCU) DictionaryRaw() []byte {
	return m.dictionaryData
}

// SendCommand encodes and sends the named command with positional args
func (m *MCU) SendCommand(ctx context.Context, name string, args ...any) error {
	msg, err := m.command(name)
	if err != nil {
		return err
	}

	payload, err := encodeMessage(msg, args)
	if err != nil {
		return err
	}
	_, err = m.transport.SendPayload(ctx, payload, protocol.DefaultAckTimeout)
	return err
}

// Request sends the named command and waits for the named response.
// match, when non-nil, selects among several responses of that name
// (e.g. by oid); non-matching responses are discarded.
func (m *MCU) Request(ctx context.Context, response string, match func(protocol.Params) bool, command string, args ...any) (protocol.Params, error) {
	msg, err := m.command(command)
	if err != nil {
		return nil, err
	}
	resp, err := m.dictionary.Load().lookup(response)
	if err != nil {
		return nil, err
	}
	payload, err := encodeMessage(msg, args)
	if err != nil {
		return nil, err
	}

	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	m.discardStale()
	seq, err := m.transport.SendPayload(ctx, payload, protocol.DefaultAckTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}

	deadline := time.Now().Add(m.responseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%s: %w waiting for %s", command, protocol.ErrResponseTimeout, response)
		}

		frame, err := m.transport.ReceiveResponse(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", command, err)
		}
		// Responses to an earlier block carry an earlier sequence
		if frame.Sequence != seq {
			m.log.Debug("discarding stale response", "sequence", frame.Sequence, "want", seq)
			continue
		}

		data := frame.Payload
		id, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			continue
		}
		if uint16(id) != resp.id {
			if name, ok := m.dictionary.Load().ResponseName(uint16(id)); ok && isShutdown(name) {
				return nil, fmt.Errorf("%s: %w", command, ErrShutdown)
			}
			continue
		}

		params, err := resp.format.Decode(&data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedFormat, err)
		}
		if match == nil || match(params) {
			return params, nil
		}
	}
}

// discardStale drops responses left over from an exchange that timed out
func (m *MCU) discardStale() {
	if n := m.transport.DrainResponses(); n > 0 {
		m.log.Debug("discarded stale responses", "count", n)
	}
}

func (m *MCU) command(name string) (*message, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	dict := m.dictionary.Load()
	if dict == nil {
		return nil, ErrNoDictionary
	}
	return dict.lookup(name)
}

func encodeMessage(msg *message, args []any) ([]byte, error) {
	scratch := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(scratch, uint32(msg.id))
	if err := msg.format.Encode(scratch, args...); err != nil {
		return nil, err
	}
	if scratch.Overflowed() {
		return nil, fmt.Errorf("%s: %w", msg.format.Name, protocol.ErrBufferTooSmall)
	}
	return append([]byte(nil), scratch.Result()...), nil
}
