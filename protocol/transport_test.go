package protocol

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// byteOutput is an OutputBuffer over a growable slice
type byteOutput struct {
	buf []byte
}

func (b *byteOutput) Output(data []byte)       { b.buf = append(b.buf, data...) }
func (b *byteOutput) CurPosition() int         { return len(b.buf) }
func (b *byteOutput) Update(pos int, val byte) { b.buf[pos] = val }
func (b *byteOutput) DataSince(pos int) []byte { return b.buf[pos:] }

// frames splits raw output into (seq, payload) pairs
func frames(t *testing.T, raw []byte) [][]byte {
	t.Helper()
	var out [][]byte
	var s frameScanner
	n := s.scan(raw, func(seq uint8, payload []byte) {
		out = append(out, append([]byte{seq}, payload...))
	}, nil)
	if n != len(raw) {
		t.Fatalf("output has %d unparsed bytes", len(raw)-n)
	}
	return out
}

func command(cmdID uint32, args ...uint32) []byte {
	var p []byte
	p = AppendVLQ(p, int32(cmdID))
	for _, a := range args {
		p = AppendVLQ(p, int32(a))
	}
	return p
}

func TestAppendFrame(t *testing.T) {
	ack := AppendFrame(nil, MessageDest, nil)
	want := []byte{5, MessageDest, 0x9E, 0x81, MessageValueSync}
	if !bytes.Equal(ack, want) {
		t.Errorf("expected ACK %x, got %x", want, ack)
	}
}

func TestTransportDispatchesAndAcks(t *testing.T) {
	out := &byteOutput{}
	var got []uint32
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		got = append(got, uint32(cmdID), v)
		return err
	})

	// two commands in one block, preceded by line noise the scanner skips
	block := AppendFrame(nil, MessageDest, append(command(3, 300), command(4, 7)...))
	tr.Receive(NewSliceInputBuffer(append([]byte{MessageValueSync, MessageValueSync}, block...)))

	if len(got) != 4 || got[0] != 3 || got[1] != 300 || got[2] != 4 || got[3] != 7 {
		t.Errorf("unexpected dispatch %v", got)
	}
	f := frames(t, out.buf)
	if len(f) != 1 || f[0][0] != MessageDest+1 || len(f[0]) != 1 {
		t.Errorf("expected one ACK with seq 0x11, got %x", f)
	}
}

func TestTransportNaksOutOfOrderBlock(t *testing.T) {
	out := &byteOutput{}
	calls := 0
	tr := NewTransport(out, func(uint16, *[]byte) error { calls++; return nil })

	tr.Receive(NewSliceInputBuffer(AppendFrame(nil, MessageDest|3, command(1))))
	if calls != 0 {
		t.Errorf("out of order block was dispatched")
	}
	f := frames(t, out.buf)
	if len(f) != 1 || f[0][0] != MessageDest {
		t.Errorf("expected NAK carrying 0x10, got %x", f)
	}
}

func TestTransportResyncsAfterCorruption(t *testing.T) {
	out := &byteOutput{}
	calls := 0
	tr := NewTransport(out, func(uint16, *[]byte) error { calls++; return nil })

	bad := AppendFrame(nil, MessageDest, command(1))
	bad[2] ^= 0xFF
	good := AppendFrame(nil, MessageDest, command(2))
	input := NewSliceInputBuffer(append(bad, good...))
	tr.Receive(input)

	// the corrupt block costs a resync; the good one after it still lands
	if calls != 1 {
		t.Errorf("expected 1 dispatch after resync, got %d", calls)
	}
	if input.Available() != 0 {
		t.Errorf("expected input fully consumed, %d left", input.Available())
	}
}

func TestTransportKeepsPartialBlock(t *testing.T) {
	out := &byteOutput{}
	calls := 0
	var arg uint32
	tr := NewTransport(out, func(_ uint16, data *[]byte) error {
		calls++
		var err error
		arg, err = DecodeVLQUint(data)
		return err
	})

	block := AppendFrame(nil, MessageDest, command(9, 1000))
	fifo := NewFifoBuffer(64)
	fifo.Write(block[:4])
	tr.Receive(fifo)
	if calls != 0 || fifo.Available() != 4 {
		t.Fatalf("partial block consumed: calls=%d left=%d", calls, fifo.Available())
	}
	fifo.Write(block[4:])
	tr.Receive(fifo)
	if calls != 1 || arg != 1000 || fifo.Available() != 0 {
		t.Errorf("expected block dispatched once complete: calls=%d arg=%d left=%d", calls, arg, fifo.Available())
	}
}

func TestTransportHandlerErrorKeepsSync(t *testing.T) {
	out := &byteOutput{}
	tr := NewTransport(out, func(uint16, *[]byte) error { return errors.New("boom") })
	tr.Receive(NewSliceInputBuffer(AppendFrame(nil, MessageDest, command(1))))
	if !tr.scanner.synced() {
		t.Error("handler error desynchronized the link")
	}
}

func TestTransportPanicDesyncs(t *testing.T) {
	out := &byteOutput{}
	tr := NewTransport(out, func(uint16, *[]byte) error { panic("bad handler") })
	tr.Receive(NewSliceInputBuffer(AppendFrame(nil, MessageDest, command(1))))
	if tr.scanner.synced() {
		t.Error("expected panic to desynchronize the link")
	}
}

// fakeMCU serves a firmware Transport over one end of a pipe
func fakeMCU(t *testing.T, conn net.Conn, handle func(tr *Transport, cmdID uint16, data *[]byte) error) {
	t.Helper()
	out := &byteOutput{}
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return handle(tr, cmdID, data)
	})
	go func() {
		in := NewFifoBuffer(256)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if len(out.buf) > 0 {
				if _, err := conn.Write(out.buf); err != nil {
					return
				}
				out.buf = out.buf[:0]
			}
		}
	}()
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	fakeMCU(t, mcuEnd, func(tr *Transport, cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		// 5 -> response 6 with v+1, 7 -> response 8 with v*2
		switch cmdID {
		case 5:
			tr.SendCommand(6, func(o OutputBuffer) { EncodeVLQUint(o, v+1) })
		case 7:
			tr.SendCommand(8, func(o OutputBuffer) { EncodeVLQUint(o, v*2) })
		}
		return nil
	})

	host := NewHostTransport(hostEnd)
	defer host.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := host.Send(ctx, 5, func(o OutputBuffer) { EncodeVLQUint(o, 41) }); err != nil {
		t.Fatal(err)
	}
	if host.Sequence() != MessageDest+1 {
		t.Errorf("expected sequence 0x11 after ACK, got 0x%02x", host.Sequence())
	}
	resp, err := host.Receive(ctx, 6)
	if err != nil {
		t.Fatal(err)
	}
	args := resp.Args
	if v, _ := DecodeVLQUint(&args); v != 42 {
		t.Errorf("expected 42, got %d", v)
	}

	if err := host.Send(ctx, 7, func(o OutputBuffer) { EncodeVLQUint(o, 21) }); err != nil {
		t.Fatal(err)
	}
	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	if _, err := host.Receive(short, 6); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("response 8 satisfied a wait for 6: %v", err)
	}
	resp, err = host.Receive(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	args = resp.Args
	if v, _ := DecodeVLQUint(&args); v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestHostTransportRejectsOversizedCommand(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	host := NewHostTransport(hostEnd)
	defer host.Close()
	err := host.SendCommand(1, func(o OutputBuffer) { EncodeVLQBytes(o, make([]byte, MessagePayloadMax)) })
	if err == nil {
		t.Error("expected oversized payload to be rejected")
	}
}

func TestHostTransportClose(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	host := NewHostTransport(hostEnd)
	if err := host.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := host.ReceiveResponse(6, time.Second); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if err := host.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
