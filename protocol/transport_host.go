package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportStopped = errors.New("transport stopped")
	ErrAckTimeout       = errors.New("ACK timeout")
	ErrResponseTimeout  = errors.New("response timeout")
	ErrRetransmitLimit  = errors.New("retransmit limit reached")
)

const (
	// DefaultAckTimeout bounds how long SendCommand waits for the MCU to ACK
	DefaultAckTimeout = 2 * time.Second

	maxRetransmits = 3
)

// ResponseHandler is called from the read loop for every response message
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport handles the Klipper protocol from the host side.
// It sends command blocks, waits for ACKs and collects response blocks.
type HostTransport struct {
	port io.ReadWriteCloser
	log  *slog.Logger

	// Sequence of the next block we send (0x10-0x1F)
	currentSeq atomic.Uint32

	scanner *frameScanner
	input   *RxBuffer

	ackChan      chan Frame
	responseChan chan Frame

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// sendMutex serializes a block write with its ACK
	sendMutex sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a host-side transport and starts its read loop
func NewHostTransport(port io.ReadWriteCloser, logger *slog.Logger) *HostTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &HostTransport{
		port:         port,
		log:          logger.With("component", "transport"),
		scanner:      newFrameScanner(false),
		input:        NewRxBuffer(512),
		ackChan:      make(chan Frame, 1),
		responseChan: make(chan Frame, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.currentSeq.Store(MessageDest)

	go t.readLoop()

	return t
}

// SendCommand encodes cmdID plus args into one block and waits for the ACK
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	if scratch.Overflowed() {
		return fmt.Errorf("command %d: %w", cmdID, ErrBufferTooSmall)
	}
	_, err := t.SendPayload(ctx, scratch.Result(), DefaultAckTimeout)
	return err
}

// SendPayload frames an already encoded payload, sends it and waits for the
// ACK. It returns the acknowledged sequence, which the device also stamps on
// any response produced while handling the block.
//
// An ACK carrying the sequence just before the one sent is a NAK: the device
// missed an earlier block, so this block is resent with that sequence. On
// timeout the block is assumed delivered and the sequence still advances; a
// lost block then shows up as a NAK on the next send.
func (t *HostTransport) SendPayload(ctx context.Context, payload []byte, timeout time.Duration) (uint8, error) {
	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	// Drop ACKs left over from an earlier timeout
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}

	seq := uint8(t.currentSeq.Load())
	var acks []uint8
	for retransmits := 0; ; retransmits++ {
		msg, err := EncodeFrame(seq, payload)
		if err != nil {
			return 0, fmt.Errorf("failed to build command: %w", err)
		}
		if err := t.writeMessage(msg); err != nil {
			return 0, fmt.Errorf("failed to write message: %w", err)
		}
		acks = append(acks, NextSequence(seq))

		ack, err := t.waitForAck(ctx, seq, acks, timeout)
		if errors.Is(err, ErrAckTimeout) {
			t.currentSeq.Store(uint32(acks[len(acks)-1]))
			return 0, err
		}
		if err != nil {
			return 0, err
		}
		if slices.Contains(acks, ack) {
			t.currentSeq.Store(uint32(ack))
			return ack, nil
		}
		if retransmits == maxRetransmits {
			t.currentSeq.Store(uint32(ack))
			return 0, fmt.Errorf("%w: device expects sequence %#x", ErrRetransmitLimit, ack)
		}

		t.log.Debug("nak, retransmitting", "sent", seq, "expected", ack)
		seq = ack
	}
}

// DrainResponses discards queued response blocks and returns how many were
// dropped
func (t *HostTransport) DrainResponses() int {
	n := 0
	for {
		select {
		case <-t.responseChan:
			n++
		default:
			return n
		}
	}
}

func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck waits for an ACK in acks or a NAK asking for the sequence just
// before sent. Any other ACK is stale and skipped.
func (t *HostTransport) waitForAck(ctx context.Context, sent uint8, acks []uint8, timeout time.Duration) (uint8, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-t.ackChan:
			if slices.Contains(acks, ack.Sequence) || NextSequence(ack.Sequence) == sent {
				return ack.Sequence, nil
			}
			t.log.Debug("ignoring stale ack", "got", ack.Sequence, "sent", sent)

		case <-timer.C:
			return 0, fmt.Errorf("%w after %v", ErrAckTimeout, timeout)

		case <-ctx.Done():
			return 0, ctx.Err()

		case <-t.stopChan:
			return 0, ErrTransportStopped
		}
	}
}

// ReceiveResponse returns the next response block
func (t *HostTransport) ReceiveResponse(ctx context.Context, timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-timer.C:
		return Frame{}, fmt.Errorf("%w after %v", ErrResponseTimeout, timeout)

	case <-ctx.Done():
		return Frame{}, ctx.Err()

	case <-t.stopChan:
		return Frame{}, ErrTransportStopped
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.input.Write(buffer[:n])
			consumed := t.scanner.scan(t.input.Data(), t.dispatch, nil)
			t.input.Pop(consumed)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			t.log.Debug("serial read error", "error", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// dispatch routes an ACK to the ACK channel and a response to the handler and
// the response channel
func (t *HostTransport) dispatch(f Frame) {
	if f.IsAck() {
		select {
		case t.ackChan <- f:
		default:
			// Keep the newest ACK
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- f
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := append([]byte(nil), f.Payload...)
		cmdID, err := DecodeVLQUint(&data)
		if err == nil {
			if err := handler(uint16(cmdID), &data); err != nil {
				t.log.Warn("response handler failed", "cmd_id", cmdID, "error", err)
			}
		}
	}

	select {
	case t.responseChan <- f:
	default:
		// Full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- f
		t.log.Debug("response queue full, dropped oldest")
	}
}

// Close stops the read loop and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// CurrentSequence returns the sequence number of the next block to send
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(t.currentSeq.Load())
}
