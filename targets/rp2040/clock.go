//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"piospi/core"
)

// Timer peripheral memory map
const (
	timerTIMERAWH = timerBase + 0x24 // Raw timer high word
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock hands the 1MHz hardware timer to core and registers the MCU name
func InitClock() {
	core.RegisterConstant("MCU", mcuName)
	core.SetClockSource(GetHardwareUptime)
}

// GetHardwareUptime reads the full 64-bit hardware timer
func GetHardwareUptime() uint64 {
	// high, low, high again to detect a rollover between the reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}
