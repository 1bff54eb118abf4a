package protocol

import (
	"math/rand"
	"testing"
)

func TestWordCount(t *testing.T) {
	tests := []struct {
		width int
		words int
	}{
		{16, 1},
		{31, 1},
		{32, 1},
		{33, 2},
		{50, 2},
		{60, 2},
	}
	for _, tt := range tests {
		if got := WordCount(tt.width); got != tt.words {
			t.Errorf("WordCount(%d) = %d, want %d", tt.width, got, tt.words)
		}
		if got := len(EncodeWords(^uint64(0), tt.width)); got != tt.words {
			t.Errorf("len(EncodeWords(_, %d)) = %d, want %d", tt.width, got, tt.words)
		}
	}
}

func TestEncodeWordsOrderAndPadding(t *testing.T) {
	words := EncodeWords(0x0123456789ABCD, 50)
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	if words[0] != 0x6789ABCD {
		t.Errorf("expected low word 0x6789ABCD, got 0x%08X", words[0])
	}
	// 0x012345 masked to the 18 bits above bit 32
	if words[1] != 0x012345&0x3FFFF {
		t.Errorf("expected high word 0x%05X, got 0x%08X", 0x012345&0x3FFFF, words[1])
	}

	words = EncodeWords(0xFFFF_FFFF_FFFF_FFFF, 20)
	if len(words) != 1 || words[0] != 0xFFFFF {
		t.Errorf("expected [0xFFFFF], got %x", words)
	}
}

func TestWordsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	payloads := []uint64{0, ^uint64(0), 1, 1 << 63, 0x0123456789ABCDEF}
	for i := 0; i < 32; i++ {
		payloads = append(payloads, rng.Uint64())
	}
	for width := 16; width <= 60; width++ {
		for _, p := range payloads {
			got := DecodeWords(EncodeWords(p, width), width)
			if want := p & Mask(width); got != want {
				t.Fatalf("width %d payload 0x%X: round trip gave 0x%X, want 0x%X", width, p, got, want)
			}
		}
	}
}

func TestDecodeWordsMasksPadding(t *testing.T) {
	if got := DecodeWords([]uint32{0xFFFFFFFF, 0xFFFFFFFF}, 40); got != Mask(40) {
		t.Errorf("expected 40-bit mask, got 0x%X", got)
	}
}

func TestMask(t *testing.T) {
	if Mask(16) != 0xFFFF {
		t.Errorf("Mask(16) = 0x%X", Mask(16))
	}
	if Mask(64) != ^uint64(0) {
		t.Errorf("Mask(64) = 0x%X", Mask(64))
	}
}

func TestPutWords(t *testing.T) {
	words := []uint32{0x04030201, 0x00000605}
	data := PutWords(words)
	want := []byte{1, 2, 3, 4, 5, 6, 0, 0}
	if string(data) != string(want) {
		t.Errorf("expected %v, got %v", want, data)
	}
	back := Words(data)
	if len(back) != 2 || back[0] != words[0] || back[1] != words[1] {
		t.Errorf("expected %x, got %x", words, back)
	}
	if partial := Words([]byte{1, 2, 3, 4, 5}); len(partial) != 2 || partial[1] != 5 {
		t.Errorf("expected trailing byte zero-extended, got %x", partial)
	}
}
