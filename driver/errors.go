package driver

import (
	"errors"
	"strconv"
)

var (
	// ErrProtocolStall matches every *StallError via errors.Is
	ErrProtocolStall = errors.New("driver: protocol stall")

	// ErrResponsePending is returned by Transfer while Write calls still
	// owe responses. Read or Drain them first.
	ErrResponsePending = errors.New("driver: response pending")

	ErrNoResponsePending = errors.New("driver: no response pending")

	// ErrStalled refuses operations on a driver whose queues are no longer
	// in step with the sequencer. Reset is the only way out.
	ErrStalled = errors.New("driver: stalled, reset required")

	ErrClosed = errors.New("driver: closed")
)

// StallError reports a host-side queue wait that gave up. Done of Words
// queue operations completed before it; anything other than zero leaves the
// driver stalled.
type StallError struct {
	Op    string
	Words int
	Done  int
	Err   error
}

func (e *StallError) Error() string {
	return "driver: " + e.Op + " stalled after " + strconv.Itoa(e.Done) + "/" +
		strconv.Itoa(e.Words) + " words: " + e.Err.Error()
}

func (e *StallError) Unwrap() error { return e.Err }

func (e *StallError) Is(target error) bool {
	return target == ErrProtocolStall
}
