package protocol

import (
	"fmt"
	"sync/atomic"
)

// Frame is a validated message block with header and trailer stripped
type Frame struct {
	Sequence uint8
	Payload  []byte
}

// IsAck reports whether the frame is an ACK/NAK (no payload)
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// EncodeFrame builds a complete message block around payload
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)

	crc := CRC16(msg)
	msg = append(msg, uint8(crc>>8), uint8(crc&0xFF), MessageValueSync)
	return msg, nil
}

// frameScanner splits a byte stream into validated frames, dropping out of
// sync on any malformed block and resynchronizing on the next sync byte.
type frameScanner struct {
	synchronized atomic.Bool
	// checkDest rejects blocks whose sequence byte lacks MessageDest
	checkDest bool
}

func newFrameScanner(checkDest bool) *frameScanner {
	s := &frameScanner{checkDest: checkDest}
	s.synchronized.Store(true)
	return s
}

// scan consumes complete frames from data, calling emit for each one and
// resync whenever synchronization is regained. It returns the number of bytes
// consumed; a trailing partial frame is left in place.
func (s *frameScanner) scan(data []byte, emit func(Frame), resync func()) int {
	total := len(data)

	for len(data) > 0 {
		if !s.synchronized.Load() {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				data = nil
				break
			}
			data = data[syncPos+1:]
			s.synchronized.Store(true)
			if resync != nil {
				resync()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			s.synchronized.Store(false)
			continue
		}

		seq := data[MessagePositionSeq]
		if s.checkDest && seq&^MessageSeqMask != MessageDest {
			s.synchronized.Store(false)
			continue
		}

		if len(data) < msgLen {
			break
		}

		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			s.synchronized.Store(false)
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			s.synchronized.Store(false)
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		data = data[msgLen:]

		emit(Frame{Sequence: seq, Payload: payload})
	}

	return total - len(data)
}
