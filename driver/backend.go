package driver

import (
	"context"

	"piospi/sequencer"
)

// Sequencer is the coprocessor a Driver runs its program on, together with
// the host ends of its two word queues. Put blocks while the TX queue is
// full and Get blocks while the RX queue is empty; both give up when ctx is
// done. Implementations: sequencer.Machine (software) and the PIO state
// machine backend on RP2040/RP2350.
type Sequencer interface {
	// Load installs a program. The sequencer must be stopped.
	Load(p *sequencer.Program) error

	// Start begins execution at the program origin with cleared registers
	Start() error

	// Stop halts execution. Stopping a stopped sequencer is a no-op.
	Stop() error

	Put(ctx context.Context, w uint32) error
	Get(ctx context.Context) (uint32, error)

	// Clear drops every word queued in either direction
	Clear()
}

var _ Sequencer = (*sequencer.Machine)(nil)
