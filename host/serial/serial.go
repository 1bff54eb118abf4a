// Package serial opens the USB CDC or UART link to the firmware
package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// ReadTimeout bounds each Read so the host transport can notice Close.
	// Zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used for the firmware's USB port
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Port is an open serial port
type Port struct {
	port *serial.Port
	cfg  Config
}

// Open opens the port and discards anything the firmware sent before the
// host was listening
func Open(cfg *Config) (*Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", cfg.Device, err)
	}
	return &Port{port: port, cfg: *cfg}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *Port) Close() error {
	return p.port.Close()
}

// Device returns the path the port was opened with
func (p *Port) Device() string {
	return p.cfg.Device
}
