// ABOUTME: Tests for packet framing
// ABOUTME: Covers byte-exact layout, streaming reads and protocol violations
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	p := Packet{Seq: 0x0102030405060708, Timestamp: 0x1112131415161718, Payload: []byte{0xAA, 0xBB}}
	got := Encode(p)

	want := []byte{
		0x00, 0x00, 0x00, 0x12,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0xAA, 0xBB,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % x\nwant       % x", got, want)
	}
	if p.Len() != len(want) {
		t.Errorf("Len() = %d, want %d", p.Len(), len(want))
	}
}

func TestReaderStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	packets := []Packet{
		{Seq: 1, Timestamp: 0, Payload: []byte("first")},
		{Seq: 2, Timestamp: 20000, Payload: nil},
		{Seq: 3, Timestamp: 40000, Payload: bytes.Repeat([]byte{7}, 4000)},
	}
	for _, p := range packets {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := NewReader(&buf, 0)
	for i, want := range packets {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Seq != want.Seq || got.Timestamp != want.Timestamp || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("packet %d: got seq=%d ts=%d len=%d", i, got.Seq, got.Timestamp, len(got.Payload))
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

// oneByteReader delivers the stream a byte at a time to exercise
// reassembly across arbitrary read boundaries.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReaderFragmentedStream(t *testing.T) {
	stream := append(Encode(Packet{Seq: 10, Payload: []byte("a")}), Encode(Packet{Seq: 11, Payload: []byte("bc")})...)
	r := NewReader(oneByteReader{bytes.NewReader(stream)}, 0)

	for _, want := range []uint64{10, 11} {
		p, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if p.Seq != want {
			t.Errorf("seq = %d, want %d", p.Seq, want)
		}
	}
}

func TestReaderViolations(t *testing.T) {
	lengthOnly := func(n uint32) []byte {
		return binary.BigEndian.AppendUint32(nil, n)
	}
	full := Encode(Packet{Seq: 1, Payload: []byte("payload")})

	tests := []struct {
		name    string
		stream  []byte
		max     int
		wantErr error
	}{
		{"length below header", lengthOnly(15), 0, ErrMalformed},
		{"length zero", lengthOnly(0), 0, ErrMalformed},
		{"length above max", lengthOnly(MaxLength + 1), 0, ErrMalformed},
		{"length above custom max", full, 20, ErrMalformed},
		{"truncated length", []byte{0, 0}, 0, io.ErrUnexpectedEOF},
		{"truncated header", full[:10], 0, io.ErrUnexpectedEOF},
		{"truncated payload", full[:len(full)-1], 0, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.stream), tt.max).Next()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Packet{Payload: make([]byte, MaxLength)})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized packet should not be written, got %d bytes", buf.Len())
	}
}
