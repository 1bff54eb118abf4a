package sequencer

import "sync"

// Lines are the three signals a program drives: Set pins control the clock,
// Out pins the data output, In pins sample the data input.
type Lines interface {
	SetClock(high bool)
	SetData(high bool)
	Sample() bool
}

// EchoDevice models a peripheral on the far end of the lines. It shifts in
// Width bits on rising clock edges, then shifts the same frame back out (or
// Respond's result, if set) on the following Width rising edges.
type EchoDevice struct {
	Width int

	// Respond computes the reply frame from the received one
	Respond func(received uint64) uint64

	mu       sync.Mutex
	clock    bool
	dataOut  bool
	dataIn   bool
	reading  bool
	bit      int
	shift    uint64
	reply    uint64
	received []uint64
}

// NewEchoDevice returns a device that answers every frame with itself
func NewEchoDevice(width int) *EchoDevice {
	return &EchoDevice{Width: width}
}

func (d *EchoDevice) SetClock(high bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rising := high && !d.clock
	d.clock = high
	if !rising {
		return
	}
	if !d.reading {
		if d.dataOut {
			d.shift |= 1 << uint(d.bit)
		}
		d.bit++
		if d.bit == d.Width {
			d.received = append(d.received, d.shift)
			d.reply = d.shift
			if d.Respond != nil {
				d.reply = d.Respond(d.shift)
			}
			d.reading, d.bit, d.shift = true, 0, 0
		}
		return
	}
	d.dataIn = d.reply>>uint(d.bit)&1 != 0
	d.bit++
	if d.bit == d.Width {
		d.reading, d.bit = false, 0
	}
}

func (d *EchoDevice) SetData(high bool) {
	d.mu.Lock()
	d.dataOut = high
	d.mu.Unlock()
}

func (d *EchoDevice) Sample() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataIn
}

// Received returns every complete frame clocked in so far
func (d *EchoDevice) Received() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.received...)
}

// Reset returns the device to the start of a write phase
func (d *EchoDevice) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading, d.bit, d.shift, d.reply = false, 0, 0, 0
	d.clock, d.dataIn = false, false
}
