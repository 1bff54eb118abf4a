package protocol

import "encoding/binary"

// WordBits is the width of a sequencer FIFO word
const WordBits = 32

// WordCount returns how many FIFO words carry a message of width bits
func WordCount(width int) int {
	return (width + WordBits - 1) / WordBits
}

// Mask returns a mask of the low width bits
func Mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}

// EncodeWords splits the low width bits of payload into FIFO words, least
// significant word first. Bits above width are dropped and the unused top of
// the last word is zero.
func EncodeWords(payload uint64, width int) []uint32 {
	payload &= Mask(width)
	words := make([]uint32, WordCount(width))
	for i := range words {
		words[i] = uint32(payload >> (WordBits * uint(i)))
	}
	return words
}

// DecodeWords joins FIFO words, least significant first, and masks the
// result to width bits
func DecodeWords(words []uint32, width int) uint64 {
	var v uint64
	for i, w := range words {
		if i*WordBits >= 64 {
			break
		}
		v |= uint64(w) << (WordBits * uint(i))
	}
	return v & Mask(width)
}

// PutWords serializes words as little-endian bytes for a %*s field
func PutWords(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// Words parses little-endian bytes produced by PutWords. A trailing partial
// word is zero-extended.
func Words(data []byte) []uint32 {
	words := make([]uint32, (len(data)+3)/4)
	for i := range words {
		var b [4]byte
		copy(b[:], data[4*i:])
		words[i] = binary.LittleEndian.Uint32(b[:])
	}
	return words
}
