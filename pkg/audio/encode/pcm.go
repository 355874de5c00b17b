// ABOUTME: PCM audio encoder
// ABOUTME: Encodes int16 frames to little-endian PCM bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/hearme/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (*PCMEncoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &PCMEncoder{format: format}, nil
}

// Encode converts a frame to 2 bytes per sample
func (e *PCMEncoder) Encode(frame audio.Frame) ([]byte, error) {
	if err := frame.Conforms(e.format); err != nil {
		return nil, err
	}
	output := make([]byte, len(frame.Samples)*2)
	for i, sample := range frame.Samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}
	return output, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
