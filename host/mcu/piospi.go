package mcu

import (
	"context"
	"fmt"
	"strconv"

	"piospi/driver"
	"piospi/protocol"
	"piospi/sequencer"
)

// PIOSPI is a configured pio_spi object on the MCU
type PIOSPI struct {
	mcu   *MCU
	OID   uint8
	Width int
}

// Status is the answer to pio_spi_status
type Status struct {
	State   driver.State
	Pending int
	Width   int
}

// ConfigurePIOSPI validates cfg against the dictionary limits and sends
// config_pio_spi. Configuring an oid again replaces the earlier object.
func (m *MCU) ConfigurePIOSPI(ctx context.Context, oid uint8, cfg driver.Config) (*PIOSPI, error) {
	if m.dictionary == nil {
		return nil, fmt.Errorf("dictionary not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxWidth, err := m.dictionary.Constant("PIO_SPI_MAX_WIDTH"); err == nil && int64(cfg.Width) > maxWidth {
		return nil, &sequencer.ConfigurationError{Field: "width", Value: cfg.Width, Reason: "above the firmware maximum"}
	}
	if _, ok := m.dictionary.Enumerations["pin"]; ok {
		for _, pin := range []uint8{cfg.Pins.Clock, cfg.Pins.DataOut, cfg.Pins.DataIn} {
			if _, err := m.dictionary.Pin("gpio" + strconv.Itoa(int(pin))); err != nil {
				return nil, &sequencer.ConfigurationError{Field: "pin", Value: int(pin), Reason: "not a pin of this MCU"}
			}
		}
	}
	err := m.SendCommand(ctx, "config_pio_spi", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(cfg.Width))
		protocol.EncodeVLQUint(output, uint32(cfg.Pins.Clock))
		protocol.EncodeVLQUint(output, uint32(cfg.Pins.DataOut))
		protocol.EncodeVLQUint(output, uint32(cfg.Pins.DataIn))
		protocol.EncodeVLQUint(output, cfg.ClockRate())
	})
	if err != nil {
		return nil, err
	}
	return &PIOSPI{mcu: m, OID: oid, Width: cfg.Width}, nil
}

func (p *PIOSPI) encodeData(payload uint64) func(output protocol.OutputBuffer) {
	data := protocol.PutWords(protocol.EncodeWords(payload, p.Width))
	return func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(p.OID))
		protocol.EncodeVLQBytes(output, data)
	}
}

func (p *PIOSPI) encodeOID(output protocol.OutputBuffer) {
	protocol.EncodeVLQUint(output, uint32(p.OID))
}

// query sends name and waits for a response addressed to this oid.
// Responses for other oids arriving first are dropped.
func (p *PIOSPI) query(ctx context.Context, name, response string, args func(output protocol.OutputBuffer)) ([]byte, error) {
	respID, err := p.mcu.dictionary.ResponseID(response)
	if err != nil {
		return nil, err
	}
	if err := p.mcu.SendCommand(ctx, name, args); err != nil {
		return nil, err
	}
	for {
		msg, err := p.mcu.transport.Receive(ctx, respID)
		if err != nil {
			return nil, fmt.Errorf("%s oid=%d: %w", name, p.OID, err)
		}
		args := msg.Args
		oid, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", response, err)
		}
		if uint8(oid) == p.OID {
			return args, nil
		}
	}
}

func (p *PIOSPI) decodeResponse(args []byte) (uint64, error) {
	raw, err := protocol.DecodeVLQBytes(&args)
	if err != nil {
		return 0, fmt.Errorf("pio_spi_transfer_response: %w", err)
	}
	words := protocol.Words(raw)
	if len(words) != protocol.WordCount(p.Width) {
		return 0, fmt.Errorf("pio_spi_transfer_response: %d words, want %d", len(words), protocol.WordCount(p.Width))
	}
	return protocol.DecodeWords(words, p.Width), nil
}

// Transfer writes payload and returns the peripheral's response. A stalled
// object sends nothing back, so a stall shows up as ctx expiring.
func (p *PIOSPI) Transfer(ctx context.Context, payload uint64) (uint64, error) {
	args, err := p.query(ctx, "pio_spi_transfer", "pio_spi_transfer_response", p.encodeData(payload))
	if err != nil {
		return 0, err
	}
	return p.decodeResponse(args)
}

// Send writes payload and leaves its response owed until Read
func (p *PIOSPI) Send(ctx context.Context, payload uint64) error {
	return p.mcu.SendCommand(ctx, "pio_spi_send", p.encodeData(payload))
}

// Read collects the response owed by the oldest Send
func (p *PIOSPI) Read(ctx context.Context) (uint64, error) {
	args, err := p.query(ctx, "pio_spi_read", "pio_spi_transfer_response", p.encodeOID)
	if err != nil {
		return 0, err
	}
	return p.decodeResponse(args)
}

// Reset restarts the object's sequencer and clears a stall
func (p *PIOSPI) Reset(ctx context.Context) error {
	return p.mcu.SendCommand(ctx, "pio_spi_reset", p.encodeOID)
}

func (p *PIOSPI) Status(ctx context.Context) (Status, error) {
	args, err := p.query(ctx, "pio_spi_status", "pio_spi_status_response", p.encodeOID)
	if err != nil {
		return Status{}, err
	}
	v, err := decodeUints(&args, 3)
	if err != nil {
		return Status{}, fmt.Errorf("pio_spi_status_response: %w", err)
	}
	return Status{State: driver.State(v[0]), Pending: int(v[1]), Width: int(v[2])}, nil
}

// Program downloads the loaded program's machine code in chunks
func (p *PIOSPI) Program(ctx context.Context) ([]uint16, error) {
	var code []uint16
	for {
		offset := uint32(len(code))
		args, err := p.query(ctx, "pio_spi_program", "pio_spi_program_response", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(p.OID))
			protocol.EncodeVLQUint(output, offset)
		})
		if err != nil {
			return nil, err
		}
		v, err := decodeUints(&args, 2)
		if err != nil {
			return nil, fmt.Errorf("pio_spi_program_response: %w", err)
		}
		raw, err := protocol.DecodeVLQBytes(&args)
		if err != nil {
			return nil, fmt.Errorf("pio_spi_program_response: %w", err)
		}
		if v[0] != offset {
			return nil, fmt.Errorf("pio_spi_program_response: offset %d, want %d", v[0], offset)
		}
		for i := 0; i+1 < len(raw); i += 2 {
			code = append(code, uint16(raw[i])|uint16(raw[i+1])<<8)
		}
		if len(code) >= int(v[1]) || len(raw) == 0 {
			return code, nil
		}
	}
}
