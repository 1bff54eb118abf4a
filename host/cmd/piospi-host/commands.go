package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"piospi/driver"
	"piospi/host/mcu"
	"piospi/sequencer"
)

// device is what the command loop drives: a local driver or a pio_spi
// object on the MCU
type device interface {
	Transfer(ctx context.Context, payload uint64) (uint64, error)
	Send(ctx context.Context, payload uint64) error
	Read(ctx context.Context) (uint64, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (mcu.Status, error)
	Program(ctx context.Context) ([]uint16, error)
	Width() int
}

var errUsage = errors.New("usage error")

// local runs the driver in this process
type local struct {
	d *driver.Driver
}

func (l *local) Transfer(ctx context.Context, p uint64) (uint64, error) { return l.d.Transfer(ctx, p) }
func (l *local) Send(ctx context.Context, p uint64) error               { return l.d.Write(ctx, p) }
func (l *local) Read(ctx context.Context) (uint64, error)               { return l.d.Read(ctx) }
func (l *local) Reset(context.Context) error                            { return l.d.Reset() }
func (l *local) Width() int                                             { return l.d.Width() }

func (l *local) Status(context.Context) (mcu.Status, error) {
	return mcu.Status{State: l.d.State(), Pending: l.d.Pending(), Width: l.d.Width()}, nil
}

func (l *local) Program(context.Context) ([]uint16, error) {
	return l.d.Program().Encode(), nil
}

// remote forwards to a pio_spi object on the MCU
type remote struct {
	mcu *mcu.MCU
	p   *mcu.PIOSPI
}

func (r *remote) Transfer(ctx context.Context, p uint64) (uint64, error) { return r.p.Transfer(ctx, p) }
func (r *remote) Send(ctx context.Context, p uint64) error               { return r.p.Send(ctx, p) }
func (r *remote) Read(ctx context.Context) (uint64, error)               { return r.p.Read(ctx) }
func (r *remote) Reset(ctx context.Context) error                        { return r.p.Reset(ctx) }
func (r *remote) Status(ctx context.Context) (mcu.Status, error)         { return r.p.Status(ctx) }
func (r *remote) Program(ctx context.Context) ([]uint16, error)          { return r.p.Program(ctx) }
func (r *remote) Width() int                                             { return r.p.Width }

// run executes one command line
func run(ctx context.Context, dev device, args []string, w io.Writer) error {
	switch args[0] {
	case "help", "?":
		printHelp(w)

	case "transfer":
		p, err := payloadArg(args)
		if err != nil {
			return err
		}
		resp, err := dev.Transfer(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%0*X\n", hexDigits(dev.Width()), resp)

	case "send":
		p, err := payloadArg(args)
		if err != nil {
			return err
		}
		return dev.Send(ctx, p)

	case "read":
		resp, err := dev.Read(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%0*X\n", hexDigits(dev.Width()), resp)

	case "reset":
		return dev.Reset(ctx)

	case "status":
		s, err := dev.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "state=%s pending=%d width=%d\n", s.State, s.Pending, s.Width)

	case "program":
		code, err := dev.Program(ctx)
		if err != nil {
			return err
		}
		if p, err := sequencer.Synthesize(dev.Width()); err == nil {
			fmt.Fprint(w, p.String())
		}
		for i, op := range code {
			fmt.Fprintf(w, "%2d: 0x%04X\n", i, op)
		}

	case "uptime":
		r, ok := dev.(*remote)
		if !ok {
			return fmt.Errorf("uptime needs the mcu backend")
		}
		up, err := r.mcu.GetUptime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "clock=%d\n", up)

	case "debug":
		r, ok := dev.(*remote)
		if !ok {
			return fmt.Errorf("debug needs the mcu backend")
		}
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return fmt.Errorf("%w: debug on|off", errUsage)
		}
		return r.mcu.SetDebug(ctx, args[1] == "on")

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
	return nil
}

// payloadArg parses the hex payload of transfer and send
func payloadArg(args []string) (uint64, error) {
	if len(args) != 2 {
		return 0, fmt.Errorf("%w: %s <hex payload>", errUsage, args[0])
	}
	s := strings.TrimPrefix(strings.ReplaceAll(args[1], "_", ""), "0x")
	p, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad payload %q: %w", args[1], err)
	}
	return p, nil
}

func hexDigits(width int) int {
	return (width + 3) / 4
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\nAvailable commands:")
	fmt.Fprintln(w, "  transfer <hex>   - Write a payload and print the response")
	fmt.Fprintln(w, "  send <hex>       - Write a payload, leaving its response owed")
	fmt.Fprintln(w, "  read             - Print the oldest owed response")
	fmt.Fprintln(w, "  reset            - Restart the sequencer and clear a stall")
	fmt.Fprintln(w, "  status           - Print state, owed responses and width")
	fmt.Fprintln(w, "  program          - Print the loaded program")
	fmt.Fprintln(w, "  uptime           - Print the MCU clock (mcu backend)")
	fmt.Fprintln(w, "  debug on|off     - Switch firmware debug output (mcu backend)")
	fmt.Fprintln(w, "  quit/exit/q      - Exit the program")
	fmt.Fprintln(w)
}
