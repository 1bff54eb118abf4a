package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"piospi/driver"
	"piospi/protocol"
	"piospi/sequencer"
)

// TransferTimeout bounds every queue wait of a pio_spi command, so a missing
// peripheral clock stalls one object instead of the command loop
const TransferTimeout = 50 * time.Millisecond

// programChunk is the number of instructions per pio_spi_program_response,
// which keeps the response inside one message block
const programChunk = 16

var (
	ErrShutdown   = errors.New("core: firmware is shut down")
	ErrWordCount  = errors.New("core: data does not match the configured width")
	ErrUnknownOID = errors.New("core: no pio_spi object with this oid")
)

// PIOSPIDevice is one configured pio_spi object
type PIOSPIDevice struct {
	OID    uint8
	Config driver.Config
	Driver *driver.Driver
}

var (
	pioSPIMu      sync.Mutex
	pioSPIDevices = make(map[uint8]*PIOSPIDevice)
)

// InitPIOSPICommands registers the pio_spi commands and the constants the
// host needs to validate a configuration
func InitPIOSPICommands() {
	RegisterCommand("config_pio_spi", "oid=%c width=%c clk_pin=%u mosi_pin=%u miso_pin=%u rate=%u", handleConfigPIOSPI)
	RegisterCommand("pio_spi_transfer", "oid=%c data=%*s", handlePIOSPITransfer)
	RegisterCommand("pio_spi_send", "oid=%c data=%*s", handlePIOSPISend)
	RegisterCommand("pio_spi_read", "oid=%c", handlePIOSPIRead)
	RegisterCommand("pio_spi_reset", "oid=%c", handlePIOSPIReset)
	RegisterCommand("pio_spi_program", "oid=%c offset=%c", handlePIOSPIProgram)
	RegisterCommand("pio_spi_status", "oid=%c", handlePIOSPIStatus)

	RegisterResponse("pio_spi_transfer_response", "oid=%c response=%*s")
	RegisterResponse("pio_spi_program_response", "oid=%c offset=%c count=%c code=%*s")
	RegisterResponse("pio_spi_status_response", "oid=%c state=%c pending=%c width=%c")

	RegisterConstant("PIO_SPI_MIN_WIDTH", sequencer.MinWidth)
	RegisterConstant("PIO_SPI_MAX_WIDTH", sequencer.MaxWidth)
	RegisterConstant("PIO_SPI_FIFO_DEPTH", sequencer.DefaultDepth)
}

// GetPIOSPIDevice returns the object configured under oid
func GetPIOSPIDevice(oid uint8) (*PIOSPIDevice, bool) {
	pioSPIMu.Lock()
	defer pioSPIMu.Unlock()
	dev, ok := pioSPIDevices[oid]
	return dev, ok
}

// decodeArgs reads n VLQ integers
func decodeArgs(data *[]byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// checkPin rejects pin numbers the MCU does not have: anything beyond the
// pin enumeration when one is registered, and anything above 255 otherwise
func checkPin(pin uint32) error {
	limit := uint32(256)
	if n := GetGlobalDictionary().EnumerationLen("pin"); n > 0 {
		limit = uint32(n)
	}
	if pin >= limit {
		return &sequencer.ConfigurationError{Field: "pin", Value: int(pin), Reason: "not a pin of this MCU"}
	}
	return nil
}

// handleConfigPIOSPI builds a driver for oid, replacing any earlier one
// Format: config_pio_spi oid=%c width=%c clk_pin=%u mosi_pin=%u miso_pin=%u rate=%u
func handleConfigPIOSPI(data *[]byte) error {
	args, err := decodeArgs(data, 6)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	oid := uint8(args[0])
	for _, pin := range args[2:5] {
		if err := checkPin(pin); err != nil {
			DebugPrintln("[PIO_SPI] config oid=" + strconv.Itoa(int(oid)) + ": " + err.Error())
			return err
		}
	}
	cfg := driver.Config{
		Width:   int(args[1]),
		Pins:    driver.Pins{Clock: uint8(args[2]), DataOut: uint8(args[3]), DataIn: uint8(args[4])},
		Rate:    args[5],
		Timeout: TransferTimeout,
	}
	if err := cfg.Validate(); err != nil {
		DebugPrintln("[PIO_SPI] config oid=" + strconv.Itoa(int(oid)) + ": " + err.Error())
		return err
	}

	pioSPIMu.Lock()
	defer pioSPIMu.Unlock()
	if old, ok := pioSPIDevices[oid]; ok {
		old.Driver.Close()
		delete(pioSPIDevices, oid)
	}
	seq, err := MustSequencerFactory().NewSequencer(cfg)
	if err != nil {
		return err
	}
	d, err := driver.New(cfg, seq)
	if err != nil {
		seq.Stop()
		if c, ok := seq.(io.Closer); ok {
			c.Close()
		}
		return err
	}
	pioSPIDevices[oid] = &PIOSPIDevice{OID: oid, Config: cfg, Driver: d}
	RecordEvent(EvtConfig, oid, uint32(cfg.Width), cfg.ClockRate())
	DebugPrintln("[PIO_SPI] oid=" + strconv.Itoa(int(oid)) + " width=" + strconv.Itoa(cfg.Width) +
		" program=" + strconv.Itoa(d.Program().Len()) + " instructions")
	return nil
}

// lookup decodes the oid and returns its device. An unknown oid has no
// effect and no response; its error ends the frame.
func lookup(data *[]byte) (*PIOSPIDevice, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if IsShutdown() {
		return nil, ErrShutdown
	}
	dev, ok := GetPIOSPIDevice(uint8(oid))
	if !ok {
		return nil, ErrUnknownOID
	}
	return dev, nil
}

// payload decodes a data=%*s argument into a payload of the device width
func (dev *PIOSPIDevice) payload(data *[]byte) (uint64, error) {
	raw, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return 0, err
	}
	words := protocol.Words(raw)
	if len(words) != protocol.WordCount(dev.Config.Width) {
		return 0, ErrWordCount
	}
	return protocol.DecodeWords(words, dev.Config.Width), nil
}

func (dev *PIOSPIDevice) respond(resp uint64) {
	words := protocol.PutWords(protocol.EncodeWords(resp, dev.Config.Width))
	SendResponse("pio_spi_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(dev.OID))
		protocol.EncodeVLQBytes(output, words)
	})
}

// failed records a stall and passes err through
func (dev *PIOSPIDevice) failed(err error) error {
	var stall *driver.StallError
	if errors.As(err, &stall) {
		RecordEvent(EvtStall, dev.OID, uint32(stall.Done), uint32(stall.Words))
		DebugPrintln("[PIO_SPI] oid=" + strconv.Itoa(int(dev.OID)) + " " + err.Error())
		DumpEventRing()
	}
	return err
}

func transferContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), TransferTimeout)
}

// handlePIOSPITransfer runs one full write/read exchange
// Format: pio_spi_transfer oid=%c data=%*s
func handlePIOSPITransfer(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	p, err := dev.payload(data)
	if err != nil {
		return err
	}
	ctx, cancel := transferContext()
	defer cancel()
	resp, err := dev.Driver.Transfer(ctx, p)
	if err != nil {
		return dev.failed(err)
	}
	RecordEvent(EvtTransfer, dev.OID, uint32(p), uint32(resp))
	dev.respond(resp)
	return nil
}

// handlePIOSPISend writes without collecting the response
// Format: pio_spi_send oid=%c data=%*s
func handlePIOSPISend(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	p, err := dev.payload(data)
	if err != nil {
		return err
	}
	ctx, cancel := transferContext()
	defer cancel()
	if err := dev.Driver.Write(ctx, p); err != nil {
		return dev.failed(err)
	}
	RecordEvent(EvtWrite, dev.OID, uint32(p), uint32(dev.Driver.Pending()))
	return nil
}

// handlePIOSPIRead collects the response owed by the oldest send
// Format: pio_spi_read oid=%c
func handlePIOSPIRead(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	ctx, cancel := transferContext()
	defer cancel()
	resp, err := dev.Driver.Read(ctx)
	if err != nil {
		return dev.failed(err)
	}
	RecordEvent(EvtRead, dev.OID, uint32(resp), uint32(dev.Driver.Pending()))
	dev.respond(resp)
	return nil
}

// Format: pio_spi_reset oid=%c
func handlePIOSPIReset(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	if err := dev.Driver.Reset(); err != nil {
		return err
	}
	RecordEvent(EvtReset, dev.OID, 0, 0)
	return nil
}

// handlePIOSPIProgram returns up to programChunk encoded instructions of the
// loaded program starting at offset
// Format: pio_spi_program oid=%c offset=%c
func handlePIOSPIProgram(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	code := dev.Driver.Program().Encode()
	start := min(int(offset), len(code))
	end := min(start+programChunk, len(code))
	chunk := make([]byte, 0, 2*(end-start))
	for _, op := range code[start:end] {
		chunk = append(chunk, byte(op), byte(op>>8))
	}
	SendResponse("pio_spi_program_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(dev.OID))
		protocol.EncodeVLQUint(output, uint32(start))
		protocol.EncodeVLQUint(output, uint32(len(code)))
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// Format: pio_spi_status oid=%c
func handlePIOSPIStatus(data *[]byte) error {
	dev, err := lookup(data)
	if err != nil {
		return err
	}
	state, pending := dev.Driver.State(), dev.Driver.Pending()
	SendResponse("pio_spi_status_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(dev.OID))
		protocol.EncodeVLQUint(output, uint32(state))
		protocol.EncodeVLQUint(output, uint32(pending))
		protocol.EncodeVLQUint(output, uint32(dev.Config.Width))
	})
	return nil
}

// ShutdownPIOSPI stops every sequencer. The objects stay configured but
// refuse commands until config_reset.
func ShutdownPIOSPI() {
	pioSPIMu.Lock()
	defer pioSPIMu.Unlock()
	for _, oid := range pioSPIOids() {
		pioSPIDevices[oid].Driver.Close()
	}
}

// ResetPIOSPI stops and forgets every configured object
func ResetPIOSPI() {
	pioSPIMu.Lock()
	defer pioSPIMu.Unlock()
	for _, oid := range pioSPIOids() {
		pioSPIDevices[oid].Driver.Close()
		delete(pioSPIDevices, oid)
	}
}

// pioSPIOids returns configured oids in order. The caller holds pioSPIMu.
func pioSPIOids() []uint8 {
	oids := make([]uint8, 0, len(pioSPIDevices))
	for oid := range pioSPIDevices {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	return oids
}
