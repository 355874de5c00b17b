// ABOUTME: In-process sinks for headless listeners and tests
// ABOUTME: Discard drops frames, Recorder keeps them for inspection
package output

import (
	"errors"
	"sync"

	"github.com/Sendspin/hearme/pkg/audio"
)

var errRecorderFull = errors.New("recorder refused frame")

// Discard is a sink that counts and drops every frame.
type Discard struct {
	mu     sync.Mutex
	open   bool
	frames int
}

// NewDiscard creates a sink with no device behind it
func NewDiscard() *Discard {
	return &Discard{}
}

func (d *Discard) Open(audio.Format) error {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *Discard) Submit(audio.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrNotOpen
	}
	d.frames++
	return nil
}

func (d *Discard) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// Frames returns the number of frames submitted.
func (d *Discard) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Recorder keeps every submitted frame in order.
type Recorder struct {
	mu     sync.Mutex
	format audio.Format
	open   bool
	closed bool
	frames []audio.Frame
	// FailAfter makes Submit fail once this many frames were recorded.
	// Zero disables.
	FailAfter int
	notify    chan struct{}
}

// NewRecorder creates a recording sink
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Open(format audio.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = format
	r.open = true
	return nil
}

func (r *Recorder) Submit(frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return ErrNotOpen
	}
	if r.FailAfter > 0 && len(r.frames) >= r.FailAfter {
		return errRecorderFull
	}
	r.frames = append(r.frames, frame.Clone())
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.closed = true
	return nil
}

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []audio.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audio.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Format returns the format passed to Open.
func (r *Recorder) Format() audio.Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// Notify receives after each recorded frame.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}
