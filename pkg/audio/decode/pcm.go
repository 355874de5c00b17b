// ABOUTME: PCM audio decoder
// ABOUTME: Decodes little-endian 16-bit PCM to int16 frames
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/hearme/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (*PCMDecoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &PCMDecoder{format: format}, nil
}

// Decode converts PCM bytes to one frame
func (d *PCMDecoder) Decode(data []byte) (audio.Frame, error) {
	want := d.format.FrameLen() * 2
	if len(data) != want {
		return audio.Frame{}, fmt.Errorf("%w: pcm payload is %d bytes, want %d", ErrCorrupt, len(data), want)
	}

	samples := make([]int16, d.format.FrameLen())
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return audio.Frame{Samples: samples, Channels: d.format.Channels}, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
