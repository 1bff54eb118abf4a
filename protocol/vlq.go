package protocol

import "errors"

var (
	ErrTruncated  = errors.New("protocol: truncated argument")
	ErrInvalidVLQ = errors.New("protocol: VLQ longer than 5 bytes")
)

// EncodeVLQInt writes v in Klipper's variable length form: seven bits per
// byte, most significant group first, the high bit marking continuation.
// Bit 6 of the first byte is the sign, so small negatives stay short.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	output.Output(AppendVLQ(buf[:0], v))
}

// EncodeVLQUint writes v with the same encoding as EncodeVLQInt
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// AppendVLQ appends the encoding of v to dst
func AppendVLQ(dst []byte, v int32) []byte {
	n := 1
	for n < 5 && !vlqFits(v, n) {
		n++
	}
	for i := n - 1; i > 0; i-- {
		dst = append(dst, byte(v>>(7*uint(i)))&0x7F|0x80)
	}
	return append(dst, byte(v)&0x7F)
}

// vlqFits reports whether v encodes in n bytes
func vlqFits(v int32, n int) bool {
	bits := 7*uint(n) - 2
	return -(int64(1)<<bits) <= int64(v) && int64(v) < 3<<bits
}

// DecodeVLQInt reads one integer and advances data past it. On error data is
// left untouched.
func DecodeVLQInt(data *[]byte) (int32, error) {
	b := *data
	if len(b) == 0 {
		return 0, ErrTruncated
	}
	c := b[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i == 5 {
			return 0, ErrInvalidVLQ
		}
		if i >= len(b) {
			return 0, ErrTruncated
		}
		c = b[i]
		i++
		v = v<<7 | uint32(c&0x7F)
	}
	*data = b[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one integer as unsigned
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a %*s argument: a VLQ length then the bytes
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a %*s argument. The result aliases data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	rest := *data
	n, err := DecodeVLQUint(&rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < n {
		return nil, ErrTruncated
	}
	*data = rest[n:]
	return rest[:n], nil
}

// EncodeVLQString writes a %s argument
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString reads a %s argument
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
