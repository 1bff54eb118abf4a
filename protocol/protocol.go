// Package protocol carries the host link: Klipper message blocks, VLQ
// integers, and the codec that packs fixed-width payloads into 32-bit FIFO
// words.
package protocol

// Version of the piospi firmware and host tools
const Version = "0.1.0"

// Message block layout: len, seq, payload..., crc16 (big endian), sync
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// OutputMax is the capacity of a ScratchOutput, enough for a batch of
// message blocks
const OutputMax = 512

// NextSequence returns the sequence byte that follows seq
func NextSequence(seq uint8) uint8 {
	return (seq+1)&MessageSeqMask | MessageDest
}
