package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds SendCommand and ReceiveResponse
const DefaultTimeout = 2 * time.Second

// responses of one command id kept while nobody waits for them
const responseBacklog = 16

var (
	ErrTransportClosed = errors.New("protocol: transport closed")
	ErrNak             = errors.New("protocol: block rejected by MCU")
)

// ResponseHandler sees every response as it arrives, before it is queued
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one response block from the MCU
type Message struct {
	Sequence uint8
	Payload  []byte // the whole block payload
	CmdID    uint16 // id of the first command in Payload
	Args     []byte // Payload after CmdID
}

// HostTransport is the host end of the link. Commands go out one block at a
// time and wait for their ACK; responses are queued per command id.
type HostTransport struct {
	port    io.ReadWriteCloser
	scanner frameScanner
	seq     atomic.Uint32
	input   *FifoBuffer

	acks chan uint8

	mu        sync.Mutex
	responses map[uint16]chan *Message
	handler   ResponseHandler

	sendMu    sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewHostTransport starts reading port in the background
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(OutputMax),
		acks:      make(chan uint8, 4),
		responses: make(map[uint16]chan *Message),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(MessageDest)
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits up to DefaultTimeout for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return t.Send(ctx, cmdID, args)
}

// Send frames one command, writes it and waits for the MCU to acknowledge
// it. The sequence advances only on an ACK.
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()
	if len(payload) > MessagePayloadMax {
		return fmt.Errorf("command %d: payload of %d bytes exceeds %d", cmdID, len(payload), MessagePayloadMax)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	// drop ACKs left over from an earlier timeout
	for len(t.acks) > 0 {
		<-t.acks
	}
	seq := uint8(t.seq.Load())
	if err := t.write(AppendFrame(nil, seq, payload)); err != nil {
		return fmt.Errorf("failed to write command %d: %w", cmdID, err)
	}

	select {
	case ack := <-t.acks:
		if ack != NextSequence(seq) {
			return fmt.Errorf("command %d: %w (sent 0x%02x, MCU expects 0x%02x)", cmdID, ErrNak, seq, ack)
		}
		t.seq.Store(uint32(ack))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("command %d: no ACK: %w", cmdID, ctx.Err())
	case <-t.stop:
		return ErrTransportClosed
	}
}

func (t *HostTransport) write(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// Receive waits for the next response with the given command id
func (t *HostTransport) Receive(ctx context.Context, cmdID uint16) (*Message, error) {
	select {
	case msg := <-t.queue(cmdID):
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("response %d: %w", cmdID, ctx.Err())
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// ReceiveResponse is Receive with a timeout
func (t *HostTransport) ReceiveResponse(cmdID uint16, timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Receive(ctx, cmdID)
}

func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *HostTransport) queue(cmdID uint16) chan *Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.responses[cmdID]
	if !ok {
		q = make(chan *Message, responseBacklog)
		t.responses[cmdID] = q
	}
	return q
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := t.port.Read(buf)
		if n > 0 {
			for chunk := buf[:n]; len(chunk) > 0; {
				w := t.input.Write(chunk)
				chunk = chunk[w:]
				t.process()
				if w == 0 {
					// no complete block fits; nothing to salvage
					t.input.Reset()
				}
			}
		}
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return
			}
			// serial ports report a read timeout as io.EOF
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) process() {
	n := t.scanner.scan(t.input.Data(), t.dispatch, nil)
	t.input.Pop(n)
}

func (t *HostTransport) dispatch(seq uint8, payload []byte) {
	if len(payload) == 0 {
		select {
		case t.acks <- seq:
		default:
		}
		return
	}
	msg := &Message{Sequence: seq, Payload: append([]byte(nil), payload...)}
	args := msg.Payload
	cmdID, err := DecodeVLQUint(&args)
	if err != nil {
		return
	}
	msg.CmdID, msg.Args = uint16(cmdID), args

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		data := msg.Args
		_ = handler(msg.CmdID, &data)
	}

	q := t.queue(msg.CmdID)
	for {
		select {
		case q <- msg:
			return
		default:
		}
		// full: the oldest response goes
		select {
		case <-q:
		default:
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset restarts the sequence at MessageDest and drops queued ACKs and
// responses
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.seq.Store(MessageDest)
	t.scanner.reset()
	for len(t.acks) > 0 {
		<-t.acks
	}
	t.mu.Lock()
	for _, q := range t.responses {
		for len(q) > 0 {
			<-q
		}
	}
	t.mu.Unlock()
}

// Sequence returns the sequence byte of the next command
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}
