// Package driver moves fixed-width payloads through a sequencer running a
// synthesized transfer program. It owns the word arithmetic of the FIFO
// handshake: every transfer submits and collects exactly WordCount(width)
// words, least significant first, and never a partial transfer.
package driver

import (
	"context"
	"io"
	"sync"

	"piospi/protocol"
	"piospi/sequencer"
)

// State of a driver instance
type State uint8

const (
	Idle             State = iota // no responses owed
	AwaitingResponse              // one or more Write calls owe a response
	Stalled                       // a wait gave up mid-transfer; Reset required
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Stalled:
		return "stalled"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Driver is a half-duplex clocked serial master for one width. Its methods
// serialize on an internal mutex so words of different transfers never
// interleave in the queues.
type Driver struct {
	cfg   Config
	prog  *sequencer.Program
	seq   Sequencer
	words int

	mu      sync.Mutex
	state   State
	pending int
}

// New validates cfg, synthesizes the program for its width, loads it into
// seq and starts it. On a configuration error nothing is loaded.
func New(cfg Config, seq Sequencer) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prog, err := sequencer.Synthesize(cfg.Width)
	if err != nil {
		return nil, err
	}
	if err := seq.Load(prog); err != nil {
		return nil, err
	}
	if err := seq.Start(); err != nil {
		return nil, err
	}
	return &Driver{
		cfg:   cfg,
		prog:  prog,
		seq:   seq,
		words: protocol.WordCount(cfg.Width),
	}, nil
}

// Transfer writes payload (truncated to the width) and returns the width
// bits sampled in the read phase that follows it.
func (d *Driver) Transfer(ctx context.Context, payload uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return 0, err
	}
	if d.pending > 0 {
		return 0, ErrResponsePending
	}

	ctx, cancel := d.waitContext(ctx)
	defer cancel()

	if n, err := d.put(ctx, payload); err != nil {
		return 0, d.stall("transfer", 2*d.words, n, err)
	}
	resp, n, err := d.get(ctx)
	if err != nil {
		return 0, d.stall("transfer", 2*d.words, d.words+n, err)
	}
	return resp, nil
}

// Write submits payload without collecting its response. The response is
// owed until Read or Drain consumes it.
func (d *Driver) Write(ctx context.Context, payload uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}

	ctx, cancel := d.waitContext(ctx)
	defer cancel()

	if n, err := d.put(ctx, payload); err != nil {
		return d.stall("write", d.words, n, err)
	}
	d.pending++
	d.state = AwaitingResponse
	return nil
}

// Read returns the response owed by the oldest outstanding Write
func (d *Driver) Read(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return 0, err
	}
	if d.pending == 0 {
		return 0, ErrNoResponsePending
	}

	ctx, cancel := d.waitContext(ctx)
	defer cancel()

	resp, n, err := d.get(ctx)
	if err != nil {
		return 0, d.stall("read", d.words, n, err)
	}
	d.release()
	return resp, nil
}

// Drain discards every owed response and returns how many it dropped
func (d *Driver) Drain(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return 0, err
	}

	ctx, cancel := d.waitContext(ctx)
	defer cancel()

	drained := 0
	for d.pending > 0 {
		if _, n, err := d.get(ctx); err != nil {
			return drained, d.stall("drain", d.words, n, err)
		}
		d.release()
		drained++
	}
	return drained, nil
}

// Reset stops the sequencer, flushes both queues, reloads the program and
// restarts it. Owed responses are forgotten and a stall is cleared.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Closed {
		return ErrClosed
	}
	if err := d.seq.Stop(); err != nil {
		return err
	}
	d.seq.Clear()
	if err := d.seq.Load(d.prog); err != nil {
		d.state = Stalled
		return err
	}
	if err := d.seq.Start(); err != nil {
		d.state = Stalled
		return err
	}
	d.pending = 0
	d.state = Idle
	return nil
}

// Close stops the sequencer. Further operations fail with ErrClosed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Closed {
		return nil
	}
	d.state = Closed
	d.pending = 0
	err := d.seq.Stop()
	// hardware sequencers give their state machine back
	if c, ok := d.seq.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Driver) Program() *sequencer.Program { return d.prog }
func (d *Driver) Width() int { return d.cfg.Width }
func (d *Driver) Config() Config { return d.cfg }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the number of responses owed by Write
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Driver) usable() error {
	switch d.state {
	case Closed:
		return ErrClosed
	case Stalled:
		return ErrStalled
	}
	return nil
}

func (d *Driver) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, d.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// put submits the words of one transfer and returns how many made it
func (d *Driver) put(ctx context.Context, payload uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for i, w := range protocol.EncodeWords(payload, d.cfg.Width) {
		if err := d.seq.Put(ctx, w); err != nil {
			return i, err
		}
	}
	return d.words, nil
}

// get collects the words of one response
func (d *Driver) get(ctx context.Context) (uint64, int, error) {
	var buf [2]uint32
	words := buf[:d.words]
	for i := range words {
		w, err := d.seq.Get(ctx)
		if err != nil {
			return 0, i, err
		}
		words[i] = w
	}
	return protocol.DecodeWords(words, d.cfg.Width), d.words, nil
}

func (d *Driver) release() {
	d.pending--
	if d.pending == 0 {
		d.state = Idle
	}
}

// stall wraps a failed wait. A wait that moved no word leaves the queues in
// step and the state unchanged.
func (d *Driver) stall(op string, words, done int, err error) error {
	if done > 0 {
		d.state = Stalled
	}
	return &StallError{Op: op, Words: words, Done: done, Err: err}
}
