//go:build rp2040 || rp2350

package pio

import (
	"device/rp"
	"machine"

	"piospi/driver"
	"piospi/sequencer"
)

// GPIOLines drives the transfer lines through SIO registers. It backs the
// software sequencer when every PIO state machine is taken. The bit rate is
// whatever the CPU reaches, well below the PIO rate.
type GPIOLines struct {
	clkMask  uint32
	mosiMask uint32
	misoMask uint32
}

// NewGPIOLines configures the clock and data out pins as low outputs and
// the data in pin as an input
func NewGPIOLines(pins driver.Pins) *GPIOLines {
	clk := machine.Pin(pins.Clock)
	mosi := machine.Pin(pins.DataOut)
	miso := machine.Pin(pins.DataIn)
	clk.Configure(machine.PinConfig{Mode: machine.PinOutput})
	clk.Low()
	mosi.Configure(machine.PinConfig{Mode: machine.PinOutput})
	mosi.Low()
	miso.Configure(machine.PinConfig{Mode: machine.PinInput})

	return &GPIOLines{
		clkMask:  1 << pins.Clock,
		mosiMask: 1 << pins.DataOut,
		misoMask: 1 << pins.DataIn,
	}
}

func (l *GPIOLines) SetClock(high bool) {
	if high {
		rp.SIO.GPIO_OUT_SET.Set(l.clkMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(l.clkMask)
	}
}

func (l *GPIOLines) SetData(high bool) {
	if high {
		rp.SIO.GPIO_OUT_SET.Set(l.mosiMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(l.mosiMask)
	}
}

func (l *GPIOLines) Sample() bool {
	return rp.SIO.GPIO_IN.Get()&l.misoMask != 0
}

// Reset returns both outputs low before a restart
func (l *GPIOLines) Reset() {
	rp.SIO.GPIO_OUT_CLR.Set(l.clkMask | l.mosiMask)
}

var _ sequencer.Lines = (*GPIOLines)(nil)
