// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is valid zlib that any inflater reads, and
// producing it needs no tables or window, which keeps the firmware small.
package tinycompress

import (
	"encoding/binary"
	"hash/adler32"
	"io"
)

// maxStored is the largest payload of one stored block
const maxStored = 0xFFFF

// zlib header: deflate, 32K window, default level, FCHECK so that the
// 16-bit header is a multiple of 31
var header = [2]byte{0x78, 0x9C}

// Compress returns data wrapped as a zlib stream
func Compress(data []byte) []byte {
	blocks := (len(data) + maxStored - 1) / maxStored
	if blocks == 0 {
		blocks = 1
	}
	out := make([]byte, 0, len(header)+5*blocks+len(data)+4)
	out = append(out, header[:]...)
	sum := adler32.Checksum(data)
	for {
		n := min(len(data), maxStored)
		final := n == len(data)
		out = appendStored(out, data[:n], final)
		data = data[n:]
		if final {
			break
		}
	}
	return binary.BigEndian.AppendUint32(out, sum)
}

func appendStored(out, block []byte, final bool) []byte {
	var bfinal byte
	if final {
		bfinal = 1
	}
	n := uint16(len(block))
	out = append(out, bfinal)
	out = binary.LittleEndian.AppendUint16(out, n)
	out = binary.LittleEndian.AppendUint16(out, ^n)
	return append(out, block...)
}

// Writer buffers everything written to it and emits the zlib stream on
// Close
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer that sizes its buffer for hint bytes. Growing
// it later allocates, which the firmware avoids while cores are running.
func NewWriter(w io.Writer, hint int) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, hint)}
}

func (z *Writer) Write(p []byte) (int, error) {
	z.buf = append(z.buf, p...)
	return len(p), nil
}

func (z *Writer) Close() error {
	_, err := z.w.Write(Compress(z.buf))
	return err
}
