// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all audio decoders plus codec dispatch
package decode

import (
	"errors"
	"fmt"

	"github.com/Sendspin/hearme/pkg/audio"
)

// ErrCorrupt marks a payload that could not be decoded into a frame.
var ErrCorrupt = errors.New("corrupt audio payload")

// Decoder decodes payloads into PCM frames
type Decoder interface {
	// Decode converts one payload to one PCM frame
	Decode(data []byte) (audio.Frame, error)

	// Close releases decoder resources
	Close() error
}

// New returns the decoder for format.Codec.
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "opus":
		return NewOpus(format)
	case "pcm":
		return NewPCM(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %q", format.Codec)
	}
}
