// Package bitbang runs the software sequencer on Linux GPIO lines through
// periph.io, for hosts without a PIO block.
package bitbang

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"piospi/driver"
	"piospi/sequencer"
)

// Lines implements sequencer.Lines on periph pins. Each clock edge is held
// for half a period of the configured rate.
type Lines struct {
	clk  gpio.PinOut
	mosi gpio.PinOut
	miso gpio.PinIn
	half time.Duration

	mu  sync.Mutex
	err error
}

// New drives clk and mosi low and makes miso an input
func New(clk, mosi gpio.PinOut, miso gpio.PinIn, rate physic.Frequency) (*Lines, error) {
	if err := clk.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("bitbang: clock pin %s: %w", clk, err)
	}
	if err := mosi.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("bitbang: data out pin %s: %w", mosi, err)
	}
	if err := miso.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("bitbang: data in pin %s: %w", miso, err)
	}
	l := &Lines{clk: clk, mosi: mosi, miso: miso}
	if rate > 0 {
		l.half = rate.Period() / 2
	}
	return l, nil
}

// Open initializes periph's host drivers and looks the pins up by GPIO
// number
func Open(pins driver.Pins, rate physic.Frequency) (*Lines, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bitbang: %w", err)
	}
	clk, err := byNumber(pins.Clock)
	if err != nil {
		return nil, err
	}
	mosi, err := byNumber(pins.DataOut)
	if err != nil {
		return nil, err
	}
	miso, err := byNumber(pins.DataIn)
	if err != nil {
		return nil, err
	}
	return New(clk, mosi, miso, rate)
}

func byNumber(n uint8) (gpio.PinIO, error) {
	name := "GPIO" + strconv.Itoa(int(n))
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("bitbang: no pin %s", name)
	}
	return p, nil
}

// NewSequencer returns a software sequencer on the GPIO lines of cfg.Pins,
// clocked at cfg.Rate
func NewSequencer(cfg driver.Config) (driver.Sequencer, error) {
	lines, err := Open(cfg.Pins, physic.Frequency(cfg.ClockRate())*physic.Hertz)
	if err != nil {
		return nil, err
	}
	return sequencer.NewMachine(lines, sequencer.DefaultDepth), nil
}

func (l *Lines) SetClock(high bool) {
	l.fail(l.clk.Out(gpio.Level(high)))
	if l.half > 0 {
		time.Sleep(l.half)
	}
}

func (l *Lines) SetData(high bool) {
	l.fail(l.mosi.Out(gpio.Level(high)))
}

func (l *Lines) Sample() bool {
	return l.miso.Read() == gpio.High
}

// Reset forgets earlier pin errors and drives both outputs low before the
// sequencer restarts
func (l *Lines) Reset() {
	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
	l.fail(l.clk.Out(gpio.Low))
	l.fail(l.mosi.Out(gpio.Low))
}

// Err returns the first pin error seen. The software sequencer polls it
// and halts, so the driver reports the failure as a stall and Reset clears
// it once the pin works again.
func (l *Lines) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Lines) fail(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

var _ sequencer.Lines = (*Lines)(nil)
