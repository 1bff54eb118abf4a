package core

import (
	"strconv"
	"sync"
)

// DebugWriter prints one line of debug output
type DebugWriter func(string)

// Event is one entry of the event ring
type Event struct {
	Type   uint8
	OID    uint8
	Clock  uint32 // microseconds since boot
	Value1 uint32
	Value2 uint32
}

// Event types
const (
	EvtConfig   = 1 // config_pio_spi; v1=width v2=rate
	EvtTransfer = 2 // v1=low word out v2=low word in
	EvtWrite    = 3 // v1=low word out v2=pending responses
	EvtRead     = 4 // v1=low word in v2=pending responses
	EvtStall    = 5 // v1=words done v2=words expected
	EvtReset    = 6
	EvtShutdown = 7
)

const EventRingSize = 32

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool
	debugChan    chan string

	ringMu   sync.Mutex
	ring     [EventRingSize]Event
	ringHead uint8
)

// SetDebugWriter installs the platform's debug output (UART, USB, stdout)
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled switches DebugPrintln output on or off. Off by default.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the goroutine behind DebugAsync
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// DebugPrintln writes msg when debug output is enabled
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues msg for the async writer and drops it if the queue is
// full
func DebugAsync(msg string) {
	if debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordEvent appends an event to the ring, overwriting the oldest
func RecordEvent(eventType, oid uint8, value1, value2 uint32) {
	ringMu.Lock()
	ring[ringHead] = Event{
		Type:   eventType,
		OID:    oid,
		Clock:  GetTime(),
		Value1: value1,
		Value2: value2,
	}
	ringHead = (ringHead + 1) % EventRingSize
	ringMu.Unlock()
}

// Events returns the recorded events, oldest first
func Events() []Event {
	ringMu.Lock()
	defer ringMu.Unlock()
	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := ring[(ringHead+i)%EventRingSize]
		if evt.Type != 0 {
			out = append(out, evt)
		}
	}
	return out
}

// DumpEventRing prints the ring through the debug writer, regardless of
// whether debug output is enabled. Called on stalls and shutdown.
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + eventName(evt.Type) +
			" oid=" + strconv.Itoa(int(evt.OID)) +
			" clock=" + strconv.FormatUint(uint64(evt.Clock), 10) +
			" v1=0x" + strconv.FormatUint(uint64(evt.Value1), 16) +
			" v2=" + strconv.FormatUint(uint64(evt.Value2), 10))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

func ClearEventRing() {
	ringMu.Lock()
	ring = [EventRingSize]Event{}
	ringHead = 0
	ringMu.Unlock()
}

func eventName(t uint8) string {
	switch t {
	case EvtConfig:
		return "CONFIG"
	case EvtTransfer:
		return "TRANSFER"
	case EvtWrite:
		return "WRITE"
	case EvtRead:
		return "READ"
	case EvtStall:
		return "STALL!"
	case EvtReset:
		return "RESET"
	case EvtShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}
