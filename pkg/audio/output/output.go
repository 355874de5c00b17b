// ABOUTME: Audio sink interface definition
// ABOUTME: Common interface for playback backends fed one frame per period
package output

import (
	"errors"

	"github.com/Sendspin/hearme/pkg/audio"
)

// ErrNotOpen is returned by Submit before Open or after Close.
var ErrNotOpen = errors.New("sink not open")

// Sink consumes exactly one frame per frame period
type Sink interface {
	// Open initializes the sink for the session format
	Open(format audio.Format) error

	// Submit hands one frame to the device. It must not block beyond
	// one frame period.
	Submit(frame audio.Frame) error

	// Close releases sink resources
	Close() error
}

// VolumeControl is implemented by sinks that scale their output.
type VolumeControl interface {
	SetVolume(volume int)
	Volume() int
	SetMuted(muted bool)
	Muted() bool
}
