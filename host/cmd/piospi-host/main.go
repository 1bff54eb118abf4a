package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/shlex"

	"piospi/driver"
	"piospi/host/bitbang"
	"piospi/host/mcu"
	"piospi/host/serial"
	"piospi/protocol"
	"piospi/sequencer"
)

var (
	backend    = flag.String("backend", "sim", "sequencer backend: sim, gpio or mcu")
	devicePath = flag.String("device", "/dev/ttyACM0", "Serial device path (mcu backend)")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	width      = flag.Int("width", 50, "Message width in bits")
	rate       = flag.Uint("rate", driver.DefaultRate, "Bit rate in Hz")
	clkPin     = flag.Uint("clk", 2, "Clock pin")
	mosiPin    = flag.Uint("mosi", 3, "Data out pin")
	misoPin    = flag.Uint("miso", 4, "Data in pin")
	oid        = flag.Uint("oid", 0, "Object id (mcu backend)")
	timeout    = flag.Duration("timeout", time.Second, "Timeout of each operation")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	fmt.Println("piospi host " + protocol.Version)

	cfg := driver.Config{
		Width:   *width,
		Pins:    driver.Pins{Clock: uint8(*clkPin), DataOut: uint8(*mosiPin), DataIn: uint8(*misoPin)},
		Rate:    uint32(*rate),
		Timeout: *timeout,
	}
	dev, closer, err := open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer()

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		err = run(ctx, dev, args, os.Stdout)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// open builds the device for the selected backend
func open(cfg driver.Config) (device, func(), error) {
	switch *backend {
	case "sim":
		dev := sequencer.NewEchoDevice(cfg.Width)
		d, err := driver.New(cfg, sequencer.NewMachine(dev, sequencer.DefaultDepth))
		if err != nil {
			return nil, nil, err
		}
		return &local{d: d}, func() { d.Close() }, nil

	case "gpio":
		seq, err := bitbang.NewSequencer(cfg)
		if err != nil {
			return nil, nil, err
		}
		d, err := driver.New(cfg, seq)
		if err != nil {
			return nil, nil, err
		}
		return &local{d: d}, func() { d.Close() }, nil

	case "mcu":
		return openMCU(cfg)
	}
	return nil, nil, fmt.Errorf("unknown backend %q", *backend)
}

func openMCU(cfg driver.Config) (device, func(), error) {
	conn := mcu.NewMCU()
	if *verbose {
		conn.Logger = log.New(os.Stderr, "mcu: ", log.LstdFlags)
	}
	serialCfg := serial.DefaultConfig(*devicePath)
	serialCfg.Baud = *baud
	fmt.Printf("Connecting to MCU on %s...\n", *devicePath)
	if err := conn.ConnectWithConfig(serialCfg); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.RetrieveDictionary(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	dict := conn.GetDictionary()
	fmt.Printf("Dictionary %s (%s), %d commands\n", dict.Version, dict.Config["MCU"], len(dict.Commands))

	p, err := conn.ConfigurePIOSPI(ctx, uint8(*oid), cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return &remote{mcu: conn, p: p}, func() { conn.Close() }, nil
}
