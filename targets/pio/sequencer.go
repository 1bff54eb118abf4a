//go:build rp2040 || rp2350

package pio

// PIO sequencer backend using tinygo-org/pio
// Runs the synthesized transfer program on one state machine. The clock
// line is the SET pin, data out the OUT pin and data in the IN pin; both
// shift registers shift right with autopull and autopush disabled, since
// the program issues every pull and push itself.

import (
	"context"
	"errors"
	"machine"
	"runtime"
	"slices"

	"piospi/driver"
	"piospi/sequencer"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

var ErrNoStateMachine = errors.New("pio: no free state machine")

// Sequencer implements driver.Sequencer on a PIO state machine
type Sequencer struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	pioNum uint8
	smNum  uint8

	clk, mosi, miso machine.Pin
	whole           uint16
	frac            uint8

	prog    *sequencer.Program
	offset  uint8
	running bool
}

// NewSequencer claims a free state machine and configures its pins for cfg.
// The program is loaded separately by the driver.
func NewSequencer(cfg driver.Config) (*Sequencer, error) {
	whole, frac, err := rp2pio.ClkDivFromFrequency(cfg.ClockRate()*sequencer.CyclesPerBit, machine.CPUFrequency())
	if err != nil {
		return nil, err
	}
	pioNum, smNum, ok := allocateStateMachine()
	if !ok {
		return nil, ErrNoStateMachine
	}

	pioHW := pioBlock(pioNum)
	s := &Sequencer{
		pio:    pioHW,
		sm:     pioHW.StateMachine(smNum),
		pioNum: pioNum,
		smNum:  smNum,
		clk:    machine.Pin(cfg.Pins.Clock),
		mosi:   machine.Pin(cfg.Pins.DataOut),
		miso:   machine.Pin(cfg.Pins.DataIn),
		whole:  whole,
		frac:   frac,
	}
	s.sm.TryClaim()

	pincfg := machine.PinConfig{Mode: pioHW.PinMode()}
	s.clk.Configure(pincfg)
	s.mosi.Configure(pincfg)
	s.miso.Configure(pincfg)
	return s, nil
}

// Load places the program in instruction memory. Programs are shared per
// PIO block, so objects of equal width reuse the same slots.
func (s *Sequencer) Load(p *sequencer.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.running {
		return sequencer.ErrRunning
	}
	offset, err := loadProgram(s.pio, s.pioNum, p.Encode())
	if err != nil {
		return err
	}
	s.prog, s.offset = p, offset
	return nil
}

// Start initializes the state machine at the program origin. Init clears
// the FIFOs, restarts the shift counters and jumps to offset.
func (s *Sequencer) Start() error {
	if s.prog == nil {
		return sequencer.ErrNoProgram
	}
	if s.running {
		return sequencer.ErrRunning
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(s.clk, 1)
	cfg.SetOutPins(s.mosi, 1)
	cfg.SetInPins(s.miso, 1)
	cfg.SetOutShift(true, false, sequencer.WordBits)
	cfg.SetInShift(true, false, sequencer.WordBits)
	cfg.SetWrap(s.offset+s.prog.Wrap, s.offset+s.prog.WrapTarget)
	cfg.SetClkDivIntFrac(s.whole, s.frac)

	s.sm.Init(s.offset, cfg)

	// pin directions must be set after Init
	s.sm.SetPindirsConsecutive(s.clk, 1, true)
	s.sm.SetPindirsConsecutive(s.mosi, 1, true)
	s.sm.SetPindirsConsecutive(s.miso, 1, false)
	s.sm.SetPinsConsecutive(s.clk, 1, false)
	s.sm.SetPinsConsecutive(s.mosi, 1, false)

	s.sm.SetEnabled(true)
	s.running = true
	return nil
}

func (s *Sequencer) Stop() error {
	if !s.running {
		return nil
	}
	s.sm.SetEnabled(false)
	s.sm.Restart()
	s.running = false
	return nil
}

// Put waits for room in the TX FIFO, yielding while it is full
func (s *Sequencer) Put(ctx context.Context, w uint32) error {
	for s.sm.IsTxFIFOFull() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	s.sm.TxPut(w)
	return nil
}

// Get waits for a word in the RX FIFO, yielding while it is empty
func (s *Sequencer) Get(ctx context.Context) (uint32, error) {
	for s.sm.IsRxFIFOEmpty() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		runtime.Gosched()
	}
	return s.sm.RxGet(), nil
}

func (s *Sequencer) Clear() {
	s.sm.ClearFIFOs()
}

// Close releases the state machine. Instruction memory stays allocated for
// other objects of the same width.
func (s *Sequencer) Close() error {
	s.Stop()
	s.sm.Unclaim()
	freeStateMachine(s.pioNum, s.smNum)
	return nil
}

func pioBlock(pioNum uint8) *rp2pio.PIO {
	if pioNum == 0 {
		return rp2pio.PIO0
	}
	return rp2pio.PIO1
}

// loaded tracks the programs already in each block's instruction memory
var loaded [2][]loadedProgram

type loadedProgram struct {
	code   []uint16
	offset uint8
}

func loadProgram(pioHW *rp2pio.PIO, pioNum uint8, code []uint16) (uint8, error) {
	for _, lp := range loaded[pioNum] {
		if slices.Equal(lp.code, code) {
			return lp.offset, nil
		}
	}
	// relocatable: jumps are patched with the offset
	offset, err := pioHW.AddProgram(code, -1)
	if err != nil {
		return 0, err
	}
	loaded[pioNum] = append(loaded[pioNum], loadedProgram{code: code, offset: offset})
	return offset, nil
}

var _ driver.Sequencer = (*Sequencer)(nil)
