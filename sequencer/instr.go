// Package sequencer builds and runs the micro-program that clocks
// half-duplex serial frames through a PIO-style state machine.
//
// The instruction set is the small closed subset of the RP2040/RP2350 PIO
// ISA the serial master needs: shift-out, shift-in, set, conditional jump,
// pull and push. Programs are plain instruction lists; they can be rendered
// as assembler text, encoded to PIO machine words, or executed by Machine.
package sequencer

import "strconv"

// Opcode is the major instruction kind
type Opcode uint8

const (
	OpJmp Opcode = iota
	OpIn
	OpOut
	OpPush
	OpPull
	OpSet
)

// Operand selects the source or destination of In, Out and Set
type Operand uint8

const (
	Pins Operand = iota
	Null
	Y
)

// Cond is a jump condition
type Cond uint8

const (
	// Always jumps unconditionally
	Always Cond = iota
	// YDec jumps if the Y counter is non-zero, decrementing it after the test
	YDec
)

// PIO instruction encoding (RP2040 datasheet, section 3.4)
const (
	encJmp  = 0x0000
	encIn   = 0x4000
	encOut  = 0x6000
	encPush = 0x8000
	encPull = 0x8080
	encSet  = 0xe000

	encDelayShift = 8
	encArgShift   = 5
)

// Instruction is one sequencer instruction
type Instruction struct {
	Op Opcode

	// Operand is the In source, Out destination or Set destination
	Operand Operand

	// Count is the bit count for In/Out (1..32) or the literal for Set (0..31)
	Count uint8

	// Cond and Addr are used by Jmp
	Cond Cond
	Addr uint8

	// If is "ifempty" for Pull and "iffull" for Push
	If    bool
	Block bool

	// Delay adds idle cycles after the instruction (0..31)
	Delay uint8
}

// Jmp returns a jump to addr under cond
func Jmp(addr uint8, cond Cond) Instruction {
	return Instruction{Op: OpJmp, Addr: addr, Cond: cond}
}

// In returns a shift of count bits from src into the ISR
func In(src Operand, count uint8) Instruction {
	return Instruction{Op: OpIn, Operand: src, Count: count}
}

// Out returns a shift of count bits from the OSR to dest
func Out(dest Operand, count uint8) Instruction {
	return Instruction{Op: OpOut, Operand: dest, Count: count}
}

// Push returns a push of the ISR to the RX FIFO
func Push(ifFull, block bool) Instruction {
	return Instruction{Op: OpPush, If: ifFull, Block: block}
}

// Pull returns a pull of the TX FIFO into the OSR
func Pull(ifEmpty, block bool) Instruction {
	return Instruction{Op: OpPull, If: ifEmpty, Block: block}
}

// Set returns a write of an immediate value to dest
func Set(dest Operand, value uint8) Instruction {
	return Instruction{Op: OpSet, Operand: dest, Count: value}
}

// WithDelay returns a copy of the instruction with the given delay
func (i Instruction) WithDelay(cycles uint8) Instruction {
	i.Delay = cycles
	return i
}

// Encode returns the 16-bit PIO machine word for the instruction.
// Jump addresses are relative to the program origin; the loader relocates
// them.
func (i Instruction) Encode() uint16 {
	var w uint16
	switch i.Op {
	case OpJmp:
		cond := uint16(0) // always
		if i.Cond == YDec {
			cond = 4
		}
		w = encJmp | cond<<encArgShift | uint16(i.Addr)&0x1f
	case OpIn:
		w = encIn | inSource(i.Operand)<<encArgShift | uint16(i.Count)&0x1f
	case OpOut:
		w = encOut | outDest(i.Operand)<<encArgShift | uint16(i.Count)&0x1f
	case OpPush:
		w = encPush | fifoFlags(i.If, i.Block)<<encArgShift
	case OpPull:
		w = encPull | fifoFlags(i.If, i.Block)<<encArgShift
	case OpSet:
		w = encSet | setDest(i.Operand)<<encArgShift | uint16(i.Count)&0x1f
	}
	return w | uint16(i.Delay&0x1f)<<encDelayShift
}

func inSource(o Operand) uint16 {
	switch o {
	case Null:
		return 3
	case Y:
		return 2
	}
	return 0
}

func outDest(o Operand) uint16 {
	switch o {
	case Null:
		return 3
	case Y:
		return 2
	}
	return 0
}

func setDest(o Operand) uint16 {
	if o == Y {
		return 2
	}
	return 0
}

func fifoFlags(cond, block bool) uint16 {
	var f uint16
	if cond {
		f |= 2
	}
	if block {
		f |= 1
	}
	return f
}

func (o Operand) String() string {
	switch o {
	case Pins:
		return "pins"
	case Null:
		return "null"
	case Y:
		return "y"
	}
	return "?"
}

// String renders the instruction in pioasm syntax
func (i Instruction) String() string {
	var s string
	switch i.Op {
	case OpJmp:
		s = "jmp "
		if i.Cond == YDec {
			s += "y-- "
		}
		s += strconv.Itoa(int(i.Addr))
	case OpIn:
		s = "in " + i.Operand.String() + ", " + strconv.Itoa(int(i.Count))
	case OpOut:
		s = "out " + i.Operand.String() + ", " + strconv.Itoa(int(i.Count))
	case OpPush:
		s = "push"
		if i.If {
			s += " iffull"
		}
		s += blockSuffix(i.Block)
	case OpPull:
		s = "pull"
		if i.If {
			s += " ifempty"
		}
		s += blockSuffix(i.Block)
	case OpSet:
		s = "set " + i.Operand.String() + ", " + strconv.Itoa(int(i.Count))
	default:
		s = "?"
	}
	if i.Delay > 0 {
		s += " [" + strconv.Itoa(int(i.Delay)) + "]"
	}
	return s
}

func blockSuffix(block bool) string {
	if block {
		return " block"
	}
	return " noblock"
}
