// Package mcu is the host side of the firmware link: dictionary download
// and typed calls for the pio_spi commands.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"piospi/host/serial"
	"piospi/protocol"
)

// identify is pinned to id 1 and identify_response to id 0 so the
// dictionary can be fetched before anything else is known
const (
	identifyID         = 1
	identifyResponseID = 0

	identifyChunk = 40
)

var ErrNotConnected = errors.New("mcu: not connected")

// MCU represents a connection to a piospi firmware
type MCU struct {
	transport *protocol.HostTransport

	dictionary     *Dictionary
	dictionaryData []byte

	// Logger receives progress messages when set
	Logger *log.Logger
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.ConnectPort(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort runs the link over an already open port
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port)
	if m.Logger != nil {
		m.transport.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
			m.logf("response %d: % x", cmdID, *data)
			return nil
		})
	}
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	err := m.transport.Close()
	m.transport = nil
	return err
}

func (m *MCU) IsConnected() bool {
	return m.transport != nil
}

func (m *MCU) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// RetrieveDictionary downloads the dictionary with identify, inflates it
// and parses it
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	if m.transport == nil {
		return ErrNotConnected
	}

	var dict bytes.Buffer
	for {
		chunk, err := m.identify(ctx, uint32(dict.Len()), identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", dict.Len(), err)
		}
		dict.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}
	m.dictionaryData = dict.Bytes()
	m.logf("dictionary retrieved: %d bytes", len(m.dictionaryData))

	parsed, err := ParseDictionary(m.dictionaryData)
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.dictionary = parsed
	m.logf("dictionary %s: %d commands, %d responses", parsed.Version, len(parsed.Commands), len(parsed.Responses))
	return nil
}

// identify fetches one chunk of the dictionary
func (m *MCU) identify(ctx context.Context, offset uint32, count uint8) ([]byte, error) {
	err := m.transport.Send(ctx, identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	resp, err := m.transport.Receive(ctx, identifyResponseID)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}
	args := resp.Args
	respOffset, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	data, err := protocol.DecodeVLQBytes(&args)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	return append([]byte(nil), data...), nil
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the dictionary as downloaded
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// SendCommand sends a command by name and waits for its ACK
func (m *MCU) SendCommand(ctx context.Context, name string, args func(output protocol.OutputBuffer)) error {
	if m.transport == nil {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return fmt.Errorf("dictionary not loaded")
	}
	id, err := m.dictionary.CommandID(name)
	if err != nil {
		return err
	}
	return m.transport.Send(ctx, id, args)
}

// Query sends a command and returns the arguments of the next response
// called response
func (m *MCU) Query(ctx context.Context, name, response string, args func(output protocol.OutputBuffer)) ([]byte, error) {
	if m.dictionary == nil {
		return nil, fmt.Errorf("dictionary not loaded")
	}
	respID, err := m.dictionary.ResponseID(response)
	if err != nil {
		return nil, err
	}
	if err := m.SendCommand(ctx, name, args); err != nil {
		return nil, err
	}
	msg, err := m.transport.Receive(ctx, respID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return msg.Args, nil
}

// Config is the firmware's answer to get_config
type Config struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
}

func (m *MCU) GetConfig(ctx context.Context) (Config, error) {
	args, err := m.Query(ctx, "get_config", "config", nil)
	if err != nil {
		return Config{}, err
	}
	v, err := decodeUints(&args, 3)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Config{IsConfig: v[0] != 0, CRC: v[1], IsShutdown: v[2] != 0}, nil
}

// GetUptime returns the MCU's 64-bit clock
func (m *MCU) GetUptime(ctx context.Context) (uint64, error) {
	args, err := m.Query(ctx, "get_uptime", "uptime", nil)
	if err != nil {
		return 0, err
	}
	v, err := decodeUints(&args, 2)
	if err != nil {
		return 0, fmt.Errorf("uptime: %w", err)
	}
	return uint64(v[0])<<32 | uint64(v[1]), nil
}

// ConfigReset drops every configured object and clears a shutdown
func (m *MCU) ConfigReset(ctx context.Context) error {
	return m.SendCommand(ctx, "config_reset", nil)
}

// FinalizeConfig records crc so a reconnecting host can tell the MCU is
// already configured
func (m *MCU) FinalizeConfig(ctx context.Context, crc uint32) error {
	return m.SendCommand(ctx, "finalize_config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, crc)
	})
}

func (m *MCU) EmergencyStop(ctx context.Context) error {
	return m.SendCommand(ctx, "emergency_stop", nil)
}

// SetDebug switches the firmware's debug output on or off
func (m *MCU) SetDebug(ctx context.Context, enable bool) error {
	return m.SendCommand(ctx, "set_debug", func(output protocol.OutputBuffer) {
		var v uint32
		if enable {
			v = 1
		}
		protocol.EncodeVLQUint(output, v)
	})
}

func decodeUints(data *[]byte, n int) ([]uint32, error) {
	v := make([]uint32, n)
	for i := range v {
		var err error
		if v[i], err = protocol.DecodeVLQUint(data); err != nil {
			return nil, err
		}
	}
	return v, nil
}
