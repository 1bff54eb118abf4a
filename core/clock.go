package core

import (
	"sync/atomic"
	"time"

	"piospi/protocol"
)

// ClockFreq is the rate of the clock reported to the host. Both targets
// run their timer at 1MHz.
const ClockFreq = 1000000

var (
	bootTime    = time.Now()
	clockSource atomic.Pointer[func() uint64]
)

// SetClockSource replaces the default monotonic clock with a hardware
// counter ticking at ClockFreq
func SetClockSource(fn func() uint64) {
	clockSource.Store(&fn)
}

// GetUptime returns 64-bit uptime in clock ticks
func GetUptime() uint64 {
	if fn := clockSource.Load(); fn != nil {
		return (*fn)()
	}
	return uint64(time.Since(bootTime) / time.Microsecond)
}

// GetTime returns the low 32 bits of the uptime
func GetTime() uint32 {
	return uint32(GetUptime())
}

// InitClockCommands registers the clock queries the host uses to estimate
// the MCU clock
func InitClockCommands() {
	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("clock", "clock=%u")
	RegisterConstant("CLOCK_FREQ", uint32(ClockFreq))
}

func handleGetUptime(*[]byte) error {
	up := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(up>>32))
		protocol.EncodeVLQUint(output, uint32(up))
	})
	return nil
}

func handleGetClock(*[]byte) error {
	now := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
	return nil
}
