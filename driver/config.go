package driver

import (
	"time"

	"piospi/sequencer"
)

// DefaultRate is the clock rate used when a Config leaves Rate at zero
const DefaultRate = 1_000_000

// Pins assigns the three line roles. The numbers are GPIO numbers on the
// target; the host GPIO backend maps them to named lines.
type Pins struct {
	Clock   uint8 // set pin, idles low
	DataOut uint8 // out pin
	DataIn  uint8 // in pin
}

// Config describes one driver instance. Width is fixed for its lifetime.
type Config struct {
	Width int
	Pins  Pins
	Rate  uint32 // clock rate in Hz, 0 selects DefaultRate

	// Timeout bounds every host-side queue wait. Zero waits until the
	// caller's context is done.
	Timeout time.Duration
}

// DefaultConfig returns a configuration for width on pins 2 (clock),
// 3 (data out) and 4 (data in)
func DefaultConfig(width int) Config {
	return Config{
		Width: width,
		Pins:  Pins{Clock: 2, DataOut: 3, DataIn: 4},
		Rate:  DefaultRate,
	}
}

// Validate checks the width and the pin roles. Any failure is a
// *sequencer.ConfigurationError.
func (c Config) Validate() error {
	if c.Width < sequencer.MinWidth || c.Width > sequencer.MaxWidth {
		return &sequencer.ConfigurationError{Field: "width", Value: c.Width, Reason: "must be within 16..60"}
	}
	p := c.Pins
	switch {
	case p.Clock == p.DataOut:
		return &sequencer.ConfigurationError{Field: "pin", Value: int(p.Clock), Reason: "used as both clock and data out"}
	case p.Clock == p.DataIn:
		return &sequencer.ConfigurationError{Field: "pin", Value: int(p.Clock), Reason: "used as both clock and data in"}
	case p.DataOut == p.DataIn:
		return &sequencer.ConfigurationError{Field: "pin", Value: int(p.DataOut), Reason: "used as both data out and data in"}
	}
	if c.Timeout < 0 {
		return &sequencer.ConfigurationError{Field: "timeout", Value: int(c.Timeout / time.Millisecond), Reason: "must not be negative"}
	}
	return nil
}

// ClockRate returns Rate, or DefaultRate when it is zero
func (c Config) ClockRate() uint32 {
	if c.Rate == 0 {
		return DefaultRate
	}
	return c.Rate
}
