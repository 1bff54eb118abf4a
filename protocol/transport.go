package protocol

import "sync/atomic"

// CommandHandler runs one decoded command. data holds the arguments and
// whatever follows them in the frame; the handler consumes its own
// arguments.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates incoming blocks,
// acknowledges each one with the next expected sequence, dispatches the
// commands of in-order blocks and frames responses.
type Transport struct {
	scanner frameScanner
	nextSeq atomic.Uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		scanner: frameScanner{checkDest: true},
		output:  output,
		handler: handler,
	}
	t.nextSeq.Store(MessageDest)
	return t
}

// Receive consumes every complete block in input
func (t *Transport) Receive(input InputBuffer) {
	n := t.scanner.scan(input.Data(), t.receiveFrame, t.encodeAckNak)
	if n > 0 {
		input.Pop(n)
	}
}

func (t *Transport) receiveFrame(seq uint8, frame []byte) {
	expected := t.sequence()
	if seq == MessageDest && expected != MessageDest {
		// host restarted its sequence
		t.nextSeq.Store(MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}
	if seq == expected {
		t.nextSeq.Store(uint32(NextSequence(seq)))
		_ = t.dispatch(frame)
	}
	// A block out of sequence is answered with the expected sequence (NAK)
	t.encodeAckNak()
}

// dispatch runs every command in frame. A panicking handler desyncs the
// link instead of taking the firmware down.
func (t *Transport) dispatch(frame []byte) error {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.desync()
		}
	}()
	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.desync()
			return err
		}
		if t.handler == nil {
			continue
		}
		// Handler errors drop the rest of the frame but keep the link
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) encodeAckNak() {
	t.output.Output(AppendFrame(make([]byte, 0, MessageLengthMin), t.sequence(), nil))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame frames whatever frameData writes as one block, using the
// current sequence
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, t.sequence()})
	frameData(t.output)
	t.output.Update(start, uint8(len(t.output.DataSince(start))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand frames a single command or response with its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, as after a USB reconnect
func (t *Transport) Reset() {
	t.scanner.reset()
	t.nextSeq.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers fn to run when the host restarts its sequence
func (t *Transport) SetResetCallback(fn func()) { t.resetCallback = fn }

// SetFlushCallback registers fn to push an ACK out right away. The host
// waits for the ACK before it looks at responses.
func (t *Transport) SetFlushCallback(fn func()) { t.flushCallback = fn }

func (t *Transport) sequence() uint8 { return uint8(t.nextSeq.Load()) }
