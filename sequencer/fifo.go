package sequencer

import "context"

// DefaultDepth is the per-direction FIFO depth of a PIO state machine
// (8 when TX and RX are joined, which this driver never does).
const DefaultDepth = 4

// FIFO is a bounded single-producer/single-consumer queue of words.
// Put blocks while full, Get blocks while empty; both give up when the
// context is done.
type FIFO struct {
	ch chan uint32
}

// NewFIFO creates a FIFO holding at most depth words
func NewFIFO(depth int) *FIFO {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &FIFO{ch: make(chan uint32, depth)}
}

// Put appends a word, blocking while the FIFO is full
func (f *FIFO) Put(ctx context.Context, w uint32) error {
	select {
	case f.ch <- w:
		return nil
	default:
	}
	select {
	case f.ch <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest word, blocking while the FIFO is empty
func (f *FIFO) Get(ctx context.Context) (uint32, error) {
	select {
	case w := <-f.ch:
		return w, nil
	default:
	}
	select {
	case w := <-f.ch:
		return w, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// TryGet removes the oldest word if one is available
func (f *FIFO) TryGet() (uint32, bool) {
	select {
	case w := <-f.ch:
		return w, true
	default:
		return 0, false
	}
}

// Len returns the number of queued words
func (f *FIFO) Len() int { return len(f.ch) }

// Cap returns the FIFO depth
func (f *FIFO) Cap() int { return cap(f.ch) }

// IsFull reports whether a Put would block
func (f *FIFO) IsFull() bool { return len(f.ch) == cap(f.ch) }

// IsEmpty reports whether a Get would block
func (f *FIFO) IsEmpty() bool { return len(f.ch) == 0 }

// Clear discards all queued words and returns how many were dropped
func (f *FIFO) Clear() int {
	n := 0
	for {
		if _, ok := f.TryGet(); !ok {
			return n
		}
		n++
	}
}
