package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib header rejected: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	return out
}

func TestCompressInflates(t *testing.T) {
	big := make([]byte, 3*maxStored/2)
	for i := range big {
		big[i] = byte(i * 7)
	}
	for _, data := range [][]byte{{}, []byte(`{"version":"0.1.0"}`), big} {
		if got := inflate(t, Compress(data)); !bytes.Equal(got, data) {
			t.Errorf("round trip of %d bytes returned %d bytes", len(data), len(got))
		}
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 16)
	w.Write([]byte("identify "))
	w.Write([]byte("offset=%u count=%c"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := string(inflate(t, buf.Bytes())); got != "identify offset=%u count=%c" {
		t.Errorf("unexpected payload %q", got)
	}
}
