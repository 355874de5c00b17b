// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to int16 PCM frames
package decode

import (
	"fmt"

	"github.com/Sendspin/hearme/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the largest frame Opus can emit.
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (*OpusDecoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm:     make([]int16, maxOpusFrame*format.Channels),
	}, nil
}

// Decode converts an Opus packet to one frame
func (d *OpusDecoder) Decode(data []byte) (audio.Frame, error) {
	if len(data) == 0 {
		return audio.Frame{}, fmt.Errorf("%w: empty opus packet", ErrCorrupt)
	}

	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: opus decode failed: %v", ErrCorrupt, err)
	}
	if n != d.format.SamplesPerChannel() {
		return audio.Frame{}, fmt.Errorf("%w: opus packet holds %d samples per channel, want %d",
			ErrCorrupt, n, d.format.SamplesPerChannel())
	}

	samples := make([]int16, n*d.format.Channels)
	copy(samples, d.pcm)
	return audio.Frame{Samples: samples, Channels: d.format.Channels}, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
