package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/google/shlex"

	"piospi/driver"
	"piospi/sequencer"
)

func simDevice(t *testing.T, width int) *local {
	t.Helper()
	cfg := driver.DefaultConfig(width)
	cfg.Timeout = time.Second
	d, err := driver.New(cfg, sequencer.NewMachine(sequencer.NewEchoDevice(width), sequencer.DefaultDepth))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return &local{d: d}
}

func exec(t *testing.T, dev device, line string) (string, error) {
	t.Helper()
	args, err := shlex.Split(line)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err = run(context.Background(), dev, args, &out)
	return out.String(), err
}

func TestTransferCommand(t *testing.T) {
	dev := simDevice(t, 50)
	out, err := exec(t, dev, "transfer 0x2_3456_789A_BCDE")
	if err != nil {
		t.Fatal(err)
	}
	if out != "0x23456789ABCDE\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSendReadStatus(t *testing.T) {
	dev := simDevice(t, 16)
	if _, err := exec(t, dev, "send BEEF"); err != nil {
		t.Fatal(err)
	}
	out, err := exec(t, dev, "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "pending=1") || !strings.Contains(out, "width=16") {
		t.Errorf("unexpected status %q", out)
	}
	if _, err := exec(t, dev, "transfer 1"); !errors.Is(err, driver.ErrResponsePending) {
		t.Errorf("expected ErrResponsePending, got %v", err)
	}
	if out, err = exec(t, dev, "read"); err != nil || out != "0xBEEF\n" {
		t.Errorf("read gave %q, %v", out, err)
	}
}

func TestUsageErrors(t *testing.T) {
	dev := simDevice(t, 16)
	for _, line := range []string{"transfer", "send 1 2", "debug maybe"} {
		if _, err := exec(t, dev, line); err == nil {
			t.Errorf("%q: expected an error", line)
		}
	}
	if _, err := exec(t, dev, "transfer xyz"); err == nil {
		t.Error("expected a parse error for a non-hex payload")
	}
	if _, err := exec(t, dev, "uptime"); err == nil {
		t.Error("expected uptime to need the mcu backend")
	}
	if _, err := exec(t, dev, "frobnicate"); err == nil {
		t.Error("expected an unknown command error")
	}
}

func TestProgramCommand(t *testing.T) {
	dev := simDevice(t, 32)
	out, err := exec(t, dev, "program")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "width=32") || !strings.Contains(out, ".wrap_target") {
		t.Errorf("expected a listing, got %q", out)
	}
}

func TestDeviceFlag(t *testing.T) {
	f := flag.Lookup("device")
	if f == nil || f.DefValue != "/dev/ttyACM0" || *devicePath != f.DefValue {
		t.Errorf("expected -device to default to /dev/ttyACM0, got %+v", f)
	}
}
