// ABOUTME: Opus audio encoder
// ABOUTME: Encodes int16 PCM frames to Opus packets
package encode

import (
	"fmt"
	"time"

	"github.com/Sendspin/hearme/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// MaxOpusPacket is the largest Opus packet we allocate for.
const MaxOpusPacket = 4000

var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

var opusDurations = map[time.Duration]bool{
	2500 * time.Microsecond: true,
	5 * time.Millisecond:    true,
	10 * time.Millisecond:   true,
	20 * time.Millisecond:   true,
	40 * time.Millisecond:   true,
	60 * time.Millisecond:   true,
}

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder *opus.Encoder
	format  audio.Format
	buf     []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format, opts Options) (*OpusEncoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}
	if err := checkOpusFormat(format); err != nil {
		return nil, err
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = 64000 * format.Channels
	}
	if err := encoder.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate %d: %w", bitrate, err)
	}

	return &OpusEncoder{
		encoder: encoder,
		format:  format,
		buf:     make([]byte, MaxOpusPacket),
	}, nil
}

func checkOpusFormat(format audio.Format) error {
	if !opusRates[format.SampleRate] {
		return fmt.Errorf("unsupported opus sample rate: %d", format.SampleRate)
	}
	if format.Channels != 1 && format.Channels != 2 {
		return fmt.Errorf("unsupported opus channel count: %d", format.Channels)
	}
	if !opusDurations[format.FrameDuration] {
		return fmt.Errorf("unsupported opus frame duration: %v", format.FrameDuration)
	}
	return nil
}

// Encode converts one frame to an Opus packet. The returned slice is owned
// by the caller.
func (e *OpusEncoder) Encode(frame audio.Frame) ([]byte, error) {
	if err := frame.Conforms(e.format); err != nil {
		return nil, err
	}

	n, err := e.encoder.Encode(frame.Samples, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
