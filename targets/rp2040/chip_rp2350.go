//go:build rp2350

package main

import "machine"

const (
	mcuName   = "rp2350"
	timerBase = 0x400b0000 // TIMER0
	gpioCount = 48
)

var (
	debugTX = machine.GPIO36
	debugRX = machine.GPIO37
)
