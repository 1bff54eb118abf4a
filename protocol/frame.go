package protocol

import (
	"bytes"
	"sync/atomic"
)

// AppendFrame appends a complete message block carrying payload to dst.
// An empty payload is an ACK/NAK.
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageValueSync)
}

// frameScanner splits a byte stream into message blocks. Both ends of the
// link share it; only the firmware side checks the destination bits of the
// sequence byte.
type frameScanner struct {
	unsynced  atomic.Bool
	checkDest bool
}

// scan calls fn for every valid block at the front of data and returns the
// number of bytes consumed. A partial block at the end is left for the next
// call. After garbage the scanner drops bytes up to the next sync byte and
// calls resynced once it finds it.
func (s *frameScanner) scan(data []byte, fn func(seq uint8, payload []byte), resynced func()) int {
	total := len(data)
	for len(data) > 0 {
		if s.unsynced.Load() {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			s.unsynced.Store(false)
			if resynced != nil {
				resynced()
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
		n := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if n < MessageLengthMin || n > MessageLengthMax ||
			(s.checkDest && seq&^MessageSeqMask != MessageDest) {
			s.desync()
			continue
		}
		if len(data) < n {
			break
		}
		if data[n-MessageTrailerSync] != MessageValueSync {
			s.desync()
			continue
		}
		crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
		if crc != CRC16(data[:n-MessageTrailerSize]) {
			s.desync()
			continue
		}
		fn(seq, data[MessageHeaderSize:n-MessageTrailerSize])
		data = data[n:]
	}
	return total - len(data)
}

func (s *frameScanner) desync()      { s.unsynced.Store(true) }
func (s *frameScanner) synced() bool { return !s.unsynced.Load() }
func (s *frameScanner) reset()       { s.unsynced.Store(false) }
