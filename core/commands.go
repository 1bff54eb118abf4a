package core

import (
	"sync/atomic"

	"piospi/protocol"
)

// ResponseSender frames responses onto the link. *protocol.Transport
// implements it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

type firmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
	oidCount   atomic.Uint32
}

var (
	globalState     firmwareState
	globalTransport ResponseSender

	resetHandler func()
	resetPending atomic.Bool
)

// InitCoreCommands registers the bootstrap and configuration commands.
// identify_response and identify must get ids 0 and 1, so this runs before
// any other registration.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)

	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetConfig(*[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(globalState.isShutdown.Load()))
		// no move queue; pio_spi commands run synchronously
		protocol.EncodeVLQUint(output, 0)
	})
	return nil
}

// handleConfigReset tears down every configured object so the host can
// configure again, including after a shutdown
func handleConfigReset(*[]byte) error {
	ResetPIOSPI()
	globalState.configCRC.Store(0)
	globalState.oidCount.Store(0)
	globalState.isShutdown.Store(false)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

func handleAllocateOids(data *[]byte) error {
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.oidCount.Store(count)
	return nil
}

func handleEmergencyStop(*[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleReset(*[]byte) error {
	// performed by CheckPendingReset once the ACK is out
	resetPending.Store(true)
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// TryShutdown stops every sequencer and refuses pio_spi commands until
// config_reset
func TryShutdown(reason string) {
	if globalState.isShutdown.Swap(true) {
		return
	}
	RecordEvent(EvtShutdown, 0, 0, 0)
	DebugPrintln("[SHUTDOWN] " + reason)
	ShutdownPIOSPI()
	DumpEventRing()
}

func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState returns to the unconfigured state after a USB
// reconnect or a host sequence restart
func ResetFirmwareState() {
	ResetPIOSPI()
	globalState.configCRC.Store(0)
	globalState.oidCount.Store(0)
	globalState.isShutdown.Store(false)
}

// SendResponse frames a registered response on the global transport. It
// panics on an unregistered name, which the transport turns into a resync.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets where SendResponse writes
func SetGlobalTransport(t ResponseSender) {
	globalTransport = t
}

// SetResetHandler installs the platform reset (watchdog reboot)
func SetResetHandler(handler func()) {
	resetHandler = handler
}

// CheckPendingReset runs the reset handler if a reset command arrived.
// Call it from the main loop after output is flushed.
func CheckPendingReset() {
	if resetPending.Load() && resetHandler != nil {
		resetHandler()
	}
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
