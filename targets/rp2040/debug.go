//go:build rp2040 || rp2350

package main

import (
	"machine"

	"piospi/core"
)

var debugUART *machine.UART

// InitDebugUART routes core debug output to UART1 at 115200 baud. Output
// stays off until the host sends set_debug.
func InitDebugUART() {
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       debugTX,
		RX:       debugRX,
	})
	if err != nil {
		return
	}
	debugUART = uart
	core.SetDebugWriter(debugWriteLine)
	core.InitAsyncDebug()
}

func debugWriteLine(s string) {
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
