package sequencer

import (
	"errors"
	"strings"
	"testing"
)

func TestSynthesizeAllWidthsFitHardware(t *testing.T) {
	for width := MinWidth; width <= MaxWidth; width++ {
		p, err := Synthesize(width)
		if err != nil {
			t.Fatalf("width %d: unexpected error: %v", width, err)
		}
		if p.Len() > 64 || p.Len() > MaxInstructions {
			t.Errorf("width %d: %d instructions exceeds instruction memory", width, p.Len())
		}
		for pc, in := range p.Instructions {
			if in.Op == OpSet && in.Operand == Y && in.Count > 31 {
				t.Errorf("width %d: loop literal %d at %d exceeds 31", width, in.Count, pc)
			}
		}
		if err := p.Validate(); err != nil {
			t.Errorf("width %d: program does not validate: %v", width, err)
		}
	}
}

func TestSynthesizeRejectsOutOfRangeWidths(t *testing.T) {
	for _, width := range []int{15, 61, 0, 255, -1} {
		p, err := Synthesize(width)
		if err == nil {
			t.Errorf("width %d: expected error, got program of %d instructions", width, p.Len())
			continue
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("width %d: expected configuration error, got %v", width, err)
		}
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Value != width {
			t.Errorf("width %d: error does not carry the width: %v", width, err)
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		width         int
		first, second int
	}{
		{16, 8, 8},
		{17, 8, 9},
		{32, 16, 16},
		{33, 16, 17},
		{50, 25, 25},
		{60, 30, 30},
	}
	for _, tt := range tests {
		first, second := Split(tt.width)
		if first != tt.first || second != tt.second {
			t.Errorf("Split(%d) = %d+%d, want %d+%d", tt.width, first, second, tt.first, tt.second)
		}
	}
}

func TestSplitLaw(t *testing.T) {
	for width := MinWidth; width <= MaxWidth; width++ {
		p, err := Synthesize(width)
		if err != nil {
			t.Fatal(err)
		}
		loops := p.LoopCounts()
		if len(loops) != 4 {
			t.Fatalf("width %d: expected 4 loops (2 write, 2 read), got %v", width, loops)
		}
		write, read := loops[:2], loops[2:]
		for _, phase := range [][]int{write, read} {
			if phase[0]+phase[1] != width {
				t.Errorf("width %d: loop sizes %v do not sum to width", width, phase)
			}
			if d := phase[1] - phase[0]; d < 0 || d > 1 {
				t.Errorf("width %d: loop sizes %v differ by more than one", width, phase)
			}
			if phase[0] > 31 || phase[1] > 31 {
				t.Errorf("width %d: loop sizes %v exceed 31", width, phase)
			}
		}
	}
}

func TestSynthesizeStructure(t *testing.T) {
	p, err := Synthesize(50)
	if err != nil {
		t.Fatal(err)
	}
	first := p.Instructions[0]
	if first.Op != OpPull || first.If || !first.Block {
		t.Errorf("program must start with an unconditional blocking pull, got %s", first)
	}
	last := p.Instructions[p.Len()-1]
	if last.Op != OpJmp || last.Cond != Always || last.Addr != 0 {
		t.Errorf("program must end with jmp 0, got %s", last)
	}
	if p.Split != [2]int{25, 25} {
		t.Errorf("expected 25+25 split, got %v", p.Split)
	}

	// 50 % 32 = 18 data bits in the last word, padded with 14
	tail := p.Instructions[p.Len()-3 : p.Len()-1]
	if tail[0] != In(Null, 14) || tail[1] != Push(false, true) {
		t.Errorf("expected alignment tail [in null, 14; push block], got [%s; %s]", tail[0], tail[1])
	}
}

func TestSynthesizeWordMultipleHasNoTail(t *testing.T) {
	p, err := Synthesize(32)
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range p.Instructions {
		if in.Op == OpIn && in.Operand == Null {
			t.Errorf("width 32 needs no alignment, found %s", in)
		}
		if in.Op == OpPush && !in.If {
			t.Errorf("width 32 needs no tail push, found %s", in)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		in   Instruction
		want uint16
	}{
		{Pull(false, true), 0x80a0},
		{Pull(true, true), 0x80e0},
		{Push(false, true), 0x8020},
		{Push(true, true), 0x8060},
		{Out(Pins, 1), 0x6001},
		{Out(Null, 32), 0x6060},
		{In(Pins, 1), 0x4001},
		{In(Null, 14), 0x406e},
		{Set(Pins, 1), 0xe001},
		{Set(Y, 24), 0xe058},
		{Jmp(3, YDec), 0x0083},
		{Jmp(0, Always), 0x0000},
		{Set(Pins, 1).WithDelay(7), 0xe701},
	}
	for _, tt := range tests {
		if got := tt.in.Encode(); got != tt.want {
			t.Errorf("%s: encoded 0x%04x, want 0x%04x", tt.in, got, tt.want)
		}
	}
}

func TestProgramString(t *testing.T) {
	p, err := Synthesize(17)
	if err != nil {
		t.Fatal(err)
	}
	listing := p.String()
	for _, want := range []string{"; width=17 split=8+9", ".wrap_target", "pull block", "pull ifempty block", "set y, 7", "set y, 8", "push iffull block", "in null, 15", "jmp 0", ".wrap"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestValidateRejectsBrokenPrograms(t *testing.T) {
	tests := []struct {
		name string
		prog Program
	}{
		{"empty", Program{}},
		{"too long", Program{Instructions: make([]Instruction, MaxInstructions+1)}},
		{"counter literal", Program{Instructions: []Instruction{Set(Y, 32), Jmp(0, Always)}}},
		{"jump target", Program{Instructions: []Instruction{Jmp(5, YDec), Jmp(0, Always)}}},
		{"zero shift", Program{Instructions: []Instruction{Out(Pins, 0), Jmp(0, Always)}}},
		{"not cyclic", Program{Instructions: []Instruction{Out(Pins, 1)}}},
	}
	for _, tt := range tests {
		if err := tt.prog.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", tt.name, err)
		}
	}
}

func TestLoopBodiesTakeCyclesPerBit(t *testing.T) {
	p, err := Synthesize(40)
	if err != nil {
		t.Fatal(err)
	}
	var loops int
	for pc, in := range p.Instructions {
		if in.Op != OpJmp || in.Cond != YDec {
			continue
		}
		loops++
		if body := pc - int(in.Addr) + 1; body != CyclesPerBit {
			t.Errorf("loop ending at %d has %d instructions, want %d", pc, body, CyclesPerBit)
		}
		for _, b := range p.Instructions[in.Addr : pc+1] {
			if b.Delay != 0 {
				t.Errorf("loop ending at %d has a delayed instruction %s", pc, b)
			}
		}
	}
	if loops != 4 {
		t.Errorf("expected 4 counter loops, got %d", loops)
	}
}
