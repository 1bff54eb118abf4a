package core

import "piospi/driver"

// SequencerFactory builds the sequencer behind each configured pio_spi
// object. The RP2040/RP2350 target registers one that claims a PIO state
// machine; host builds register the software sequencer.
type SequencerFactory interface {
	NewSequencer(cfg driver.Config) (driver.Sequencer, error)
}

// SequencerFactoryFunc adapts a function to SequencerFactory
type SequencerFactoryFunc func(cfg driver.Config) (driver.Sequencer, error)

func (f SequencerFactoryFunc) NewSequencer(cfg driver.Config) (driver.Sequencer, error) {
	return f(cfg)
}

var sequencerFactory SequencerFactory

// SetSequencerFactory is called by target code during init
func SetSequencerFactory(f SequencerFactory) {
	sequencerFactory = f
}

// MustSequencerFactory returns the registered factory or panics if the
// target never registered one
func MustSequencerFactory() SequencerFactory {
	if sequencerFactory == nil {
		panic("sequencer factory not configured")
	}
	return sequencerFactory
}
