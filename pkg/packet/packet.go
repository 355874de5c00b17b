// ABOUTME: Encoded packet type and length-prefixed binary framing
// ABOUTME: Serializes packets to single writes and parses them back from a stream
package packet

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthSize is the size of the length prefix.
	LengthSize = 4
	// HeaderSize is sequence plus timestamp, the fixed part counted by length.
	HeaderSize = 16
	// MaxLength is the default upper bound on the length field.
	MaxLength = 64 * 1024
)

// ErrMalformed marks a record that violates the framing protocol.
var ErrMalformed = errors.New("malformed packet")

// Packet is one encoded audio frame. Immutable once produced.
type Packet struct {
	Seq       uint64
	Timestamp uint64 // microseconds
	Payload   []byte
}

// Len returns the encoded size of p including the length prefix.
func (p Packet) Len() int {
	return LengthSize + HeaderSize + len(p.Payload)
}

// AppendEncode appends the wire form of p to dst.
func AppendEncode(dst []byte, p Packet) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(HeaderSize+len(p.Payload)))
	dst = binary.BigEndian.AppendUint64(dst, p.Seq)
	dst = binary.BigEndian.AppendUint64(dst, p.Timestamp)
	return append(dst, p.Payload...)
}

// Encode returns the wire form of p.
func Encode(p Packet) []byte {
	return AppendEncode(make([]byte, 0, p.Len()), p)
}

// Write writes p to w with a single Write call.
func Write(w io.Writer, p Packet) error {
	if HeaderSize+len(p.Payload) > MaxLength {
		return fmt.Errorf("%w: payload of %d bytes exceeds maximum", ErrMalformed, len(p.Payload))
	}
	_, err := w.Write(Encode(p))
	return err
}

// Writer frames packets onto a stream, reusing one buffer.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter creates a Writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 512)}
}

// Write frames and writes p with a single Write call on the underlying writer.
func (w *Writer) Write(p Packet) error {
	if HeaderSize+len(p.Payload) > MaxLength {
		return fmt.Errorf("%w: payload of %d bytes exceeds maximum", ErrMalformed, len(p.Payload))
	}
	w.buf = AppendEncode(w.buf[:0], p)
	_, err := w.w.Write(w.buf)
	return err
}

// Reader parses packets from a byte stream
type Reader struct {
	r      *bufio.Reader
	max    int
	header [LengthSize + HeaderSize]byte
}

// NewReader creates a Reader on r. maxLength bounds the length field;
// zero selects MaxLength.
func NewReader(r io.Reader, maxLength int) *Reader {
	if maxLength <= 0 {
		maxLength = MaxLength
	}
	return &Reader{r: bufio.NewReader(r), max: maxLength}
}

// Next reads one packet. It returns io.EOF only when the stream ends on a
// record boundary, io.ErrUnexpectedEOF for a truncated record and an error
// wrapping ErrMalformed for an invalid length.
func (r *Reader) Next() (Packet, error) {
	if _, err := io.ReadFull(r.r, r.header[:LengthSize]); err != nil {
		return Packet{}, err
	}
	length := binary.BigEndian.Uint32(r.header[:LengthSize])
	if length < HeaderSize || length > uint32(r.max) {
		return Packet{}, fmt.Errorf("%w: length %d outside [%d, %d]", ErrMalformed, length, HeaderSize, r.max)
	}

	if _, err := io.ReadFull(r.r, r.header[LengthSize:]); err != nil {
		return Packet{}, unexpected(err)
	}
	p := Packet{
		Seq:       binary.BigEndian.Uint64(r.header[LengthSize:]),
		Timestamp: binary.BigEndian.Uint64(r.header[LengthSize+8:]),
		Payload:   make([]byte, length-HeaderSize),
	}
	if _, err := io.ReadFull(r.r, p.Payload); err != nil {
		return Packet{}, unexpected(err)
	}
	return p, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
