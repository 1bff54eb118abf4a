//go:build rp2040

package main

import "machine"

const (
	mcuName   = "rp2040"
	timerBase = 0x40054000
	gpioCount = 30
)

// UART1 on GPIO8/GPIO9, clear of the default pio_spi pins
var (
	debugTX = machine.GPIO8
	debugRX = machine.GPIO9
)
