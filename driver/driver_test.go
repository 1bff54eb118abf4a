package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"piospi/protocol"
	"piospi/sequencer"
)

func newTestDriver(t *testing.T, width int, respond func(uint64) uint64) (*Driver, *sequencer.Machine, *sequencer.EchoDevice) {
	t.Helper()
	dev := sequencer.NewEchoDevice(width)
	dev.Respond = respond
	m := sequencer.NewMachine(dev, sequencer.DefaultDepth)
	cfg := DefaultConfig(width)
	cfg.Timeout = time.Second
	d, err := New(cfg, m)
	if err != nil {
		t.Fatalf("New(%d): %v", width, err)
	}
	t.Cleanup(func() { d.Close() })
	return d, m, dev
}

func TestTransferWidth50(t *testing.T) {
	d, m, dev := newTestDriver(t, 50, nil)
	ctx := context.Background()

	payload := uint64(0x3_0123_4567_89ab)
	got, err := d.Transfer(ctx, payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != payload {
		t.Errorf("expected 0x%x, got 0x%x", payload, got)
	}
	if st := m.Stats(); st.Pulled != 2 || st.Pushed != 2 {
		t.Errorf("expected exactly 2 words each way, got %+v", st)
	}
	if frames := dev.Received(); len(frames) != 1 || frames[0] != payload {
		t.Errorf("device received %x, want [%x]", frames, payload)
	}
	if d.State() != Idle {
		t.Errorf("expected idle after transfer, got %s", d.State())
	}
}

func TestTransferAllWidths(t *testing.T) {
	for width := sequencer.MinWidth; width <= sequencer.MaxWidth; width++ {
		mask := protocol.Mask(width)
		d, _, _ := newTestDriver(t, width, func(rx uint64) uint64 { return ^rx & mask })
		payload := uint64(0xa5c3_96e1_0f5a_3cc3)
		got, err := d.Transfer(context.Background(), payload)
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if want := ^payload & mask; got != want {
			t.Errorf("width %d: expected 0x%x, got 0x%x", width, want, got)
		}
		d.Close()
	}
}

func TestConsecutiveTransfersDoNotLeak(t *testing.T) {
	d, _, dev := newTestDriver(t, 50, func(rx uint64) uint64 { return rx ^ 0x2_aaaa_aaaa_aaaa })
	ctx := context.Background()

	first, second := uint64(0x3_ffff_ffff_ffff), uint64(0x0_0000_0000_0001)
	for _, p := range []uint64{first, second} {
		got, err := d.Transfer(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		if want := p ^ 0x2_aaaa_aaaa_aaaa; got != want {
			t.Errorf("payload 0x%x: expected 0x%x, got 0x%x", p, want, got)
		}
	}
	frames := dev.Received()
	if len(frames) != 2 || frames[0] != first || frames[1] != second {
		t.Errorf("device received %x, want [%x %x]", frames, first, second)
	}
}

func TestTransferTruncatesPayload(t *testing.T) {
	d, _, dev := newTestDriver(t, 20, nil)
	got, err := d.Transfer(context.Background(), 0xffff_fff0_0012_3456)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x23456 {
		t.Errorf("expected 0x23456, got 0x%x", got)
	}
	if frames := dev.Received(); frames[0] != 0x23456 {
		t.Errorf("device saw 0x%x, want 0x23456", frames[0])
	}
}

func TestWriteInterlock(t *testing.T) {
	d, _, _ := newTestDriver(t, 24, nil)
	ctx := context.Background()

	if _, err := d.Read(ctx); !errors.Is(err, ErrNoResponsePending) {
		t.Errorf("expected ErrNoResponsePending, got %v", err)
	}
	if err := d.Write(ctx, 0x123456); err != nil {
		t.Fatal(err)
	}
	if d.State() != AwaitingResponse || d.Pending() != 1 {
		t.Errorf("expected 1 owed response, got state %s pending %d", d.State(), d.Pending())
	}
	if _, err := d.Transfer(ctx, 0x111111); !errors.Is(err, ErrResponsePending) {
		t.Errorf("expected ErrResponsePending, got %v", err)
	}
	got, err := d.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x123456 {
		t.Errorf("expected echo of written payload, got 0x%x", got)
	}

	for _, p := range []uint64{1, 2} {
		if err := d.Write(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	n, err := d.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || d.Pending() != 0 || d.State() != Idle {
		t.Errorf("expected 2 drained and idle, got %d drained, state %s", n, d.State())
	}

	got, err = d.Transfer(ctx, 0xabcdef)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xabcdef {
		t.Errorf("expected 0xabcdef after drain, got 0x%x", got)
	}
}

func TestStallAndReset(t *testing.T) {
	dev := sequencer.NewEchoDevice(40)
	m := sequencer.NewMachine(dev, sequencer.DefaultDepth)
	cfg := DefaultConfig(40)
	cfg.Timeout = 20 * time.Millisecond
	d, err := New(cfg, m)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	m.Stop()
	_, err = d.Transfer(context.Background(), 0xab_cdef_0123)
	if !errors.Is(err, ErrProtocolStall) {
		t.Fatalf("expected protocol stall, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected stall to wrap the deadline, got %v", err)
	}
	var serr *StallError
	if !errors.As(err, &serr) || serr.Op != "transfer" || serr.Words != 4 || serr.Done != 2 {
		t.Errorf("unexpected stall detail: %+v", serr)
	}
	if d.State() != Stalled {
		t.Errorf("expected stalled, got %s", d.State())
	}
	if _, err := d.Transfer(context.Background(), 1); !errors.Is(err, ErrStalled) {
		t.Errorf("expected ErrStalled before reset, got %v", err)
	}

	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	got, err := d.Transfer(context.Background(), 0x12_3456_789a)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x12_3456_789a {
		t.Errorf("expected 0x123456789a after reset, got 0x%x", got)
	}
}

func TestStallWithoutProgressKeepsState(t *testing.T) {
	d, _, _ := newTestDriver(t, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Transfer(ctx, 1)
	if !errors.Is(err, ErrProtocolStall) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled stall, got %v", err)
	}
	if d.State() != Idle {
		t.Errorf("expected idle when no word moved, got %s", d.State())
	}
}

func TestConcurrentTransfers(t *testing.T) {
	d, _, _ := newTestDriver(t, 36, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				got, err := d.Transfer(context.Background(), p)
				if err != nil {
					errs <- err
					return
				}
				if got != p {
					errs <- errors.New("response from another transfer")
					return
				}
			}
		}(uint64(i)<<32 | 0x5555_0000 | uint64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClose(t *testing.T) {
	d, m, _ := newTestDriver(t, 16, nil)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Running() {
		t.Error("expected sequencer stopped after Close")
	}
	if _, err := d.Transfer(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := d.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Reset, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

type recordingSequencer struct {
	loads, starts int
}

func (r *recordingSequencer) Load(*sequencer.Program) error { r.loads++; return nil }
func (r *recordingSequencer) Start() error { r.starts++; return nil }
func (r *recordingSequencer) Stop() error { return nil }
func (r *recordingSequencer) Put(context.Context, uint32) error { return nil }
func (r *recordingSequencer) Get(context.Context) (uint32, error) { return 0, nil }
func (r *recordingSequencer) Clear() {}

func TestNewRejectsConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"width 15", DefaultConfig(15)},
		{"width 61", DefaultConfig(61)},
		{"width 0", DefaultConfig(0)},
		{"width 255", DefaultConfig(255)},
		{"shared clock", Config{Width: 32, Pins: Pins{Clock: 1, DataOut: 1, DataIn: 2}}},
		{"shared data", Config{Width: 32, Pins: Pins{Clock: 0, DataOut: 2, DataIn: 2}}},
		{"negative timeout", Config{Width: 32, Pins: Pins{0, 1, 2}, Timeout: -time.Second}},
	}
	for _, tt := range tests {
		seq := &recordingSequencer{}
		d, err := New(tt.cfg, seq)
		if !errors.Is(err, sequencer.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", tt.name, err)
		}
		if d != nil || seq.loads != 0 || seq.starts != 0 {
			t.Errorf("%s: sequencer touched on configuration error (loads=%d starts=%d)", tt.name, seq.loads, seq.starts)
		}
	}
}

func TestClockRate(t *testing.T) {
	if r := (Config{}).ClockRate(); r != DefaultRate {
		t.Errorf("expected default rate, got %d", r)
	}
	if r := (Config{Rate: 400_000}).ClockRate(); r != 400_000 {
		t.Errorf("expected 400000, got %d", r)
	}
}
