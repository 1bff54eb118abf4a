package sequencer

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stats counts FIFO traffic on the sequencer side
type Stats struct {
	Pulled uint64 // words taken from the TX FIFO
	Pushed uint64 // words placed in the RX FIFO
	Cycles uint64 // instructions executed
}

// Machine is a software state machine that executes a Program with the same
// register and FIFO semantics as a PIO state machine configured with right
// shifts, autopull/autopush disabled and 32-bit thresholds. It runs in its
// own goroutine between Start and Stop.
//
// Put and Get are the host's ends of the TX and RX FIFOs.
type Machine struct {
	lines   Lines
	lineErr func() error
	tx      *FIFO
	rx      *FIFO

	mu      sync.Mutex
	prog    *Program
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	pulled atomic.Uint64
	pushed atomic.Uint64
	cycles atomic.Uint64
}

// NewMachine creates a stopped machine driving lines, with FIFOs of the
// given depth. If lines has an Err method, the machine halts on the first
// error it reports.
func NewMachine(lines Lines, depth int) *Machine {
	m := &Machine{
		lines: lines,
		tx:    NewFIFO(depth),
		rx:    NewFIFO(depth),
	}
	if e, ok := lines.(interface{ Err() error }); ok {
		m.lineErr = e.Err
	}
	return m
}

// Load installs a program. The machine must be stopped.
func (m *Machine) Load(p *Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrRunning
	}
	m.prog = p
	return nil
}

// Start restarts the state machine at the program origin with cleared
// registers
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prog == nil {
		return ErrNoProgram
	}
	if m.cancel != nil {
		return ErrRunning
	}
	if r, ok := m.lines.(interface{ Reset() }); ok {
		r.Reset()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastErr = nil
	go m.run(ctx, m.prog, m.done)
	return nil
}

// Stop halts the state machine and waits for it to park
func (m *Machine) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Running reports whether the state machine is started
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Err returns the error that halted the last run, if any
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Put pushes a word into the TX FIFO
func (m *Machine) Put(ctx context.Context, w uint32) error {
	return m.tx.Put(ctx, w)
}

// Get pops a word from the RX FIFO
func (m *Machine) Get(ctx context.Context) (uint32, error) {
	return m.rx.Get(ctx)
}

// Clear drops everything queued in both FIFOs
func (m *Machine) Clear() {
	m.tx.Clear()
	m.rx.Clear()
}

// TxLevel and RxLevel return the FIFO fill levels
func (m *Machine) TxLevel() int { return m.tx.Len() }
func (m *Machine) RxLevel() int { return m.rx.Len() }

// Stats returns a snapshot of the traffic counters
func (m *Machine) Stats() Stats {
	return Stats{
		Pulled: m.pulled.Load(),
		Pushed: m.pushed.Load(),
		Cycles: m.cycles.Load(),
	}
}

// registers of one state machine
type registers struct {
	pc       uint8
	osr      uint32
	osrCount uint8 // bits shifted out since the last pull
	isr      uint32
	isrCount uint8 // bits shifted in since the last push
	y        uint32
}

func (m *Machine) run(ctx context.Context, p *Program, done chan struct{}) {
	defer close(done)
	err := m.execute(ctx, p)
	if err != nil && ctx.Err() == nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
	}
}

func (m *Machine) execute(ctx context.Context, p *Program) error {
	var r registers
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := p.Instructions[r.pc]
		next := r.pc + 1
		if r.pc == p.Wrap {
			next = p.WrapTarget
		}
		m.cycles.Add(1)

		switch in.Op {
		case OpJmp:
			switch in.Cond {
			case Always:
				next = in.Addr
			case YDec:
				if r.y != 0 {
					next = in.Addr
				}
				r.y--
			}

		case OpOut:
			n := in.Count
			bits := r.osr & mask32(n)
			r.osr = shiftRight(r.osr, n)
			r.osrCount = saturate(r.osrCount + n)
			if in.Operand == Pins {
				m.lines.SetData(bits&1 != 0)
				if err := m.checkLines(); err != nil {
					return err
				}
			}

		case OpIn:
			n := in.Count
			var bits uint32
			if in.Operand == Pins && m.lines.Sample() {
				bits = 1
			}
			r.isr = shiftRight(r.isr, n) | bits<<(WordBits-uint32(n))
			r.isrCount = saturate(r.isrCount + n)

		case OpPull:
			if in.If && r.osrCount < WordBits {
				break
			}
			w, ok := m.tx.TryGet()
			if !ok {
				if !in.Block {
					// noblock on an empty FIFO copies X; X is always zero here
					r.osr, r.osrCount = 0, 0
					break
				}
				var err error
				if w, err = m.tx.Get(ctx); err != nil {
					return err
				}
			}
			m.pulled.Add(1)
			r.osr, r.osrCount = w, 0

		case OpPush:
			if in.If && r.isrCount < WordBits {
				break
			}
			if !in.Block && m.rx.IsFull() {
				r.isr, r.isrCount = 0, 0
				break
			}
			// Count before the word becomes visible to the host
			m.pushed.Add(1)
			if err := m.rx.Put(ctx, r.isr); err != nil {
				m.pushed.Add(^uint64(0))
				return err
			}
			r.isr, r.isrCount = 0, 0

		case OpSet:
			switch in.Operand {
			case Pins:
				m.lines.SetClock(in.Count&1 != 0)
				if err := m.checkLines(); err != nil {
					return err
				}
			case Y:
				r.y = uint32(in.Count)
			}
		}
		r.pc = next
	}
}

func (m *Machine) checkLines() error {
	if m.lineErr == nil {
		return nil
	}
	return m.lineErr()
}

func mask32(n uint8) uint32 {
	if n >= WordBits {
		return ^uint32(0)
	}
	return 1<<n - 1
}

func shiftRight(v uint32, n uint8) uint32 {
	if n >= WordBits {
		return 0
	}
	return v >> n
}

func saturate(n uint8) uint8 {
	if n > WordBits {
		return WordBits
	}
	return n
}
