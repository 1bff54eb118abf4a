package sequencer

import (
	"errors"
	"strconv"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is
	ErrConfiguration = errors.New("sequencer: invalid configuration")

	ErrNoProgram = errors.New("sequencer: no program loaded")
	ErrRunning   = errors.New("sequencer: state machine is running")
	ErrStopped   = errors.New("sequencer: state machine is stopped")
)

// ConfigurationError reports a parameter that cannot be turned into a valid
// program. Nothing is built or loaded when it is returned.
type ConfigurationError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "sequencer: invalid " + e.Field + " " + strconv.Itoa(e.Value) + ": " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
