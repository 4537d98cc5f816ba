package protocol

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// CommandHandler handles one decoded command; it must consume its own
// arguments from data
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the protocol: it accepts command blocks from
// the host, ACKs them and frames responses. The host tooling uses it to
// emulate an MCU.
type Transport struct {
	scanner *frameScanner

	// Next sequence expected from the host; also stamped on ACKs and responses
	nextSequence atomic.Uint32

	mu      sync.Mutex
	out     io.Writer
	handler CommandHandler

	resetCallback func()
}

// NewTransport creates a device transport writing frames to out
func NewTransport(out io.Writer, handler CommandHandler) *Transport {
	t := &Transport{
		scanner: newFrameScanner(true),
		out:     out,
		handler: handler,
	}
	t.nextSequence.Store(MessageDest)
	return t
}

// Receive processes buffered input, dispatching every complete block
func (t *Transport) Receive(input InputBuffer) {
	consumed := t.scanner.scan(input.Data(), t.handleFrame, t.sendAck)
	input.Pop(consumed)
}

func (t *Transport) handleFrame(f Frame) {
	expected := uint8(t.nextSequence.Load())
	if f.Sequence == MessageDest && expected != MessageDest {
		// Host restarted its sequence
		t.nextSequence.Store(MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if f.Sequence == expected {
		t.nextSequence.Store(uint32(NextSequence(f.Sequence)))
		t.parseFrame(f.Payload)
	}

	// A mismatched sequence still gets an ACK, which then acts as a NAK
	t.sendAck()
}

func (t *Transport) parseFrame(frame []byte) {
	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.synchronized.Store(false)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return
		}
	}
}

func (t *Transport) sendAck() {
	msg, _ := EncodeFrame(uint8(t.nextSequence.Load()), nil)
	t.write(msg)
}

// SendResponse frames one response message
func (t *Transport) SendResponse(cmdID uint16, args func(output OutputBuffer)) error {
	msg, err := t.encodeResponse(cmdID, args)
	if err != nil {
		return err
	}
	t.write(msg)
	return nil
}

// SendResponseAfter frames a response now, stamped with the current sequence,
// and writes it once delay has passed
func (t *Transport) SendResponseAfter(delay time.Duration, cmdID uint16, args func(output OutputBuffer)) error {
	msg, err := t.encodeResponse(cmdID, args)
	if err != nil {
		return err
	}
	time.AfterFunc(delay, func() { t.write(msg) })
	return nil
}

func (t *Transport) encodeResponse(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	if scratch.Overflowed() {
		return nil, fmt.Errorf("response %d: %w", cmdID, ErrBufferTooSmall)
	}
	return EncodeFrame(uint8(t.nextSequence.Load()), scratch.Result())
}

func (t *Transport) write(msg []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.out.Write(msg)
}

// SetResetCallback sets a callback to be called when a host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}
