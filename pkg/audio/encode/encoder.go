// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders plus codec dispatch
package encode

import (
	"fmt"

	"github.com/Sendspin/hearme/pkg/audio"
)

// Encoder encodes fixed-duration PCM frames to payload bytes
type Encoder interface {
	// Encode converts one PCM frame to encoded audio data
	Encode(frame audio.Frame) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// Options tunes encoder construction. Zero values select codec defaults.
type Options struct {
	// Bitrate in bits per second. Opus default is 64000 per channel.
	Bitrate int
}

// New returns the encoder for format.Codec.
func New(format audio.Format, opts Options) (Encoder, error) {
	switch format.Codec {
	case "opus":
		return NewOpus(format, opts)
	case "pcm":
		return NewPCM(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
