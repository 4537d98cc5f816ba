// Package protocol implements the Klipper communication protocol as seen from
// the host: VLQ encoding, message framing and the serial transport.
package protocol

// Version is the host protocol implementation version
const Version = "0.2.0"

// Frame layout constants
const (
	MessageMax         = 512 // Scratch buffer size for building frames
	MessageHeaderSize  = 2   // len + seq
	MessageTrailerSize = 3   // crc_hi + crc_lo + sync
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)

// NextSequence returns the sequence number following seq (0x10-0x1F, wrapping)
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
