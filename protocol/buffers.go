package protocol

// InputBuffer holds received bytes until whole blocks can be parsed
type InputBuffer interface {
	Data() []byte
	Pop(n int)
}

// OutputBuffer receives encoded message bytes
type OutputBuffer interface {
	Output(data []byte)
}

// ScratchOutput collects one message payload. Bytes beyond MessageMax are
// dropped and the loss is reported by Overflowed.
type ScratchOutput struct {
	buf      []byte
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{buf: make([]byte, 0, MessageMax)}
}

func (s *ScratchOutput) Output(data []byte) {
	if room := MessageMax - len(s.buf); len(data) > room {
		data = data[:room]
		s.overflow = true
	}
	s.buf = append(s.buf, data...)
}

// Result returns the bytes written so far
func (s *ScratchOutput) Result() []byte {
	return s.buf
}

// Overflowed reports whether any output was dropped
func (s *ScratchOutput) Overflowed() bool {
	return s.overflow
}

func (s *ScratchOutput) Reset() {
	s.buf = s.buf[:0]
	s.overflow = false
}

// RxBuffer accumulates bytes read from a stream. Write accepts at most
// the remaining capacity; Pop discards parsed bytes from the front.
type RxBuffer struct {
	buf []byte
	max int
}

// NewRxBuffer creates a buffer holding at most capacity unparsed bytes
func NewRxBuffer(capacity int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, 0, capacity), max: capacity}
}

// Write appends data and returns how many bytes fit
func (r *RxBuffer) Write(data []byte) int {
	if room := r.max - len(r.buf); len(data) > room {
		data = data[:room]
	}
	r.buf = append(r.buf, data...)
	return len(data)
}

func (r *RxBuffer) Data() []byte {
	return r.buf
}

func (r *RxBuffer) Len() int {
	return len(r.buf)
}

func (r *RxBuffer) Pop(n int) {
	if n >= len(r.buf) {
		r.buf = r.buf[:0]
		return
	}
	r.buf = r.buf[:copy(r.buf, r.buf[n:])]
}
