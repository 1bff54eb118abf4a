package sequencer

import "strconv"

// Supported message widths
const (
	MinWidth = 16
	MaxWidth = 60
)

// CyclesPerBit is the number of instructions each bit loop executes, so a
// state machine clocked at CyclesPerBit*rate shifts rate bits per second
const CyclesPerBit = 5

// Split divides a phase of width bits into two counter loops. The first loop
// gets width/2 and the second the remainder, so the loops differ by at most
// one bit and both stay within the counter range for every supported width.
func Split(width int) (first, second int) {
	first = width / 2
	return first, width - first
}

// Synthesize builds the program for a message of width bits.
//
// Layout, for each transfer:
//
//	pull block                ; explicit load, discards any OSR leftovers
//	set y, first-1
//	  pull ifempty block      ; refill only when 32 bits have been shifted
//	  out pins, 1             ; data out, LSB first
//	  set pins, 1             ; clock high, peripheral samples
//	  set pins, 0
//	  jmp y-- (loop)
//	set y, second-1 ...       ; same loop body
//	set y, first-1
//	  set pins, 1
//	  in pins, 1              ; sample data in while clock is high
//	  set pins, 0
//	  push iffull block       ; flush every complete word
//	  jmp y-- (loop)
//	set y, second-1 ...
//	in null, 32-width%32      ; right-align the final partial word
//	push block
//	jmp 0
//
// The tail alignment and push are omitted when width is a multiple of 32,
// since the last word was already flushed by the iffull push.
func Synthesize(width int) (*Program, error) {
	if width < MinWidth || width > MaxWidth {
		return nil, &ConfigurationError{
			Field:  "width",
			Value:  width,
			Reason: "must be in " + strconv.Itoa(MinWidth) + ".." + strconv.Itoa(MaxWidth),
		}
	}
	first, second := Split(width)
	for _, n := range [2]int{first, second} {
		if n-1 > MaxCounter {
			return nil, &ConfigurationError{Field: "loop count", Value: n, Reason: "exceeds counter range"}
		}
	}

	b := &builder{}

	// Write phase
	b.emit(Pull(false, true))
	for _, n := range [2]int{first, second} {
		b.emit(Set(Y, uint8(n-1)))
		top := b.here()
		b.emit(Pull(true, true))
		b.emit(Out(Pins, 1))
		b.emit(Set(Pins, 1))
		b.emit(Set(Pins, 0))
		b.emit(Jmp(top, YDec))
	}

	// Read phase
	for _, n := range [2]int{first, second} {
		b.emit(Set(Y, uint8(n-1)))
		top := b.here()
		b.emit(Set(Pins, 1))
		b.emit(In(Pins, 1))
		b.emit(Set(Pins, 0))
		b.emit(Push(true, true))
		b.emit(Jmp(top, YDec))
	}
	if rem := width % WordBits; rem != 0 {
		b.emit(In(Null, uint8(WordBits-rem)))
		b.emit(Push(false, true))
	}
	b.emit(Jmp(0, Always))

	p := &Program{
		Width:        width,
		Split:        [2]int{first, second},
		Instructions: b.code,
		WrapTarget:   0,
		Wrap:         uint8(len(b.code) - 1),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

type builder struct {
	code []Instruction
}

func (b *builder) here() uint8 {
	return uint8(len(b.code))
}

func (b *builder) emit(in Instruction) {
	b.code = append(b.code, in)
}
