//go:build rp2040 || rp2350

package pio

import (
	"errors"

	"piospi/core"
	"piospi/driver"
	"piospi/sequencer"
)

const (
	pioBlocks      = 2
	machinesPerPIO = 4
)

// claimed marks the state machines in use; allocation resumes at
// nextBlock/nextSM
var (
	claimed           [pioBlocks][machinesPerPIO]bool
	nextBlock, nextSM uint8
)

// InitSequencers registers the pio_spi commands and the factory that backs
// each configured object with a state machine
func InitSequencers() {
	core.InitPIOSPICommands()
	core.SetSequencerFactory(core.SequencerFactoryFunc(createSequencer))
}

// createSequencer prefers a PIO state machine and falls back to the
// software sequencer on GPIO once all eight are claimed
func createSequencer(cfg driver.Config) (driver.Sequencer, error) {
	s, err := NewSequencer(cfg)
	if errors.Is(err, ErrNoStateMachine) {
		core.DebugPrintln("[PIO] no free state machine, using GPIO")
		return sequencer.NewMachine(NewGPIOLines(cfg.Pins), sequencer.DefaultDepth), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// allocateStateMachine claims the next free state machine, walking the
// blocks round robin so objects spread over both PIOs
func allocateStateMachine() (pioNum, smNum uint8, ok bool) {
	for range pioBlocks * machinesPerPIO {
		pioNum, smNum = nextBlock, nextSM
		if nextSM++; nextSM == machinesPerPIO {
			nextSM = 0
			nextBlock = (nextBlock + 1) % pioBlocks
		}
		if !claimed[pioNum][smNum] {
			claimed[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}
	return 0, 0, false
}

func freeStateMachine(pioNum, smNum uint8) {
	claimed[pioNum][smNum] = false
}
