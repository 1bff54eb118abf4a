package sequencer

import (
	"strconv"
	"strings"
)

const (
	// MaxInstructions is the size of a PIO block's instruction memory
	MaxInstructions = 32

	// MaxCounter is the largest counter literal a Set can load (5-bit field)
	MaxCounter = 31

	// WordBits is the width of a FIFO word and of the OSR/ISR
	WordBits = 32
)

// Program is a synthesized, cyclic instruction sequence for one message width
type Program struct {
	// Width is the message width in bits the program was built for
	Width int

	// Split holds the bit counts of the two loops used by each phase
	Split [2]int

	Instructions []Instruction

	// WrapTarget and Wrap bound the cyclic region (relative to origin)
	WrapTarget uint8
	Wrap       uint8
}

// Len returns the number of instructions
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Encode returns the program as PIO machine words ready for AddProgram
func (p *Program) Encode() []uint16 {
	code := make([]uint16, len(p.Instructions))
	for i, in := range p.Instructions {
		code[i] = in.Encode()
	}
	return code
}

// LoopCounts returns the iteration count of every counter-driven loop, in
// program order
func (p *Program) LoopCounts() []int {
	var counts []int
	for _, in := range p.Instructions {
		if in.Op == OpSet && in.Operand == Y {
			counts = append(counts, int(in.Count)+1)
		}
	}
	return counts
}

// Validate checks the hardware limits: instruction memory, counter range,
// shift counts, jump targets, and that the program ends by jumping back to
// its wrap target.
func (p *Program) Validate() error {
	n := len(p.Instructions)
	if n == 0 {
		return &ConfigurationError{Field: "program length", Value: 0, Reason: "empty program"}
	}
	if n > MaxInstructions {
		return &ConfigurationError{Field: "program length", Value: n,
			Reason: "exceeds " + strconv.Itoa(MaxInstructions) + " instruction slots"}
	}
	for pc, in := range p.Instructions {
		if in.Delay > 31 {
			return invalidAt(pc, "delay", int(in.Delay), "exceeds 31 cycles")
		}
		switch in.Op {
		case OpSet:
			if in.Count > MaxCounter {
				return invalidAt(pc, "set literal", int(in.Count), "exceeds counter max "+strconv.Itoa(MaxCounter))
			}
		case OpIn, OpOut:
			if in.Count == 0 || in.Count > WordBits {
				return invalidAt(pc, "shift count", int(in.Count), "must be 1..32")
			}
		case OpJmp:
			if int(in.Addr) >= n {
				return invalidAt(pc, "jump target", int(in.Addr), "outside program")
			}
		}
	}
	last := p.Instructions[n-1]
	if last.Op != OpJmp || last.Cond != Always || last.Addr != p.WrapTarget {
		return &ConfigurationError{Field: "program tail", Value: n - 1, Reason: "program must jump back to its start"}
	}
	return nil
}

func invalidAt(pc int, field string, value int, reason string) error {
	return &ConfigurationError{
		Field:  field + " at " + strconv.Itoa(pc),
		Value:  value,
		Reason: reason,
	}
}

// String renders the program as a pioasm listing
func (p *Program) String() string {
	var b strings.Builder
	b.WriteString("; width=")
	b.WriteString(strconv.Itoa(p.Width))
	b.WriteString(" split=")
	b.WriteString(strconv.Itoa(p.Split[0]))
	b.WriteString("+")
	b.WriteString(strconv.Itoa(p.Split[1]))
	b.WriteString("\n")
	for pc, in := range p.Instructions {
		if pc == int(p.WrapTarget) {
			b.WriteString(".wrap_target\n")
		}
		b.WriteString("    ")
		b.WriteString(in.String())
		b.WriteString("\t; ")
		b.WriteString(strconv.Itoa(pc))
		b.WriteString("\n")
		if pc == int(p.Wrap) {
			b.WriteString(".wrap\n")
		}
	}
	return b.String()
}
