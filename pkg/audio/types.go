// ABOUTME: Audio type definitions
// ABOUTME: Defines the session audio format and fixed-duration PCM frames
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Session defaults: 48kHz stereo Opus in 20ms frames.
const (
	DefaultCodec         = "opus"
	DefaultSampleRate    = 48000
	DefaultChannels      = 2
	DefaultFrameDuration = 20 * time.Millisecond
)

// ErrFormatMismatch is returned when a frame does not match the session format.
var ErrFormatMismatch = errors.New("frame does not match format")

// Format describes the audio stream of one session. It is fixed for the
// session's lifetime.
type Format struct {
	Codec         string        `json:"codec"`
	SampleRate    int           `json:"rate"`
	Channels      int           `json:"ch"`
	FrameDuration time.Duration `json:"frame"`
}

// DefaultFormat returns the 48kHz stereo 20ms Opus format.
func DefaultFormat() Format {
	return Format{
		Codec:         DefaultCodec,
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		FrameDuration: DefaultFrameDuration,
	}
}

// SamplesPerChannel returns the number of samples per channel in one frame.
func (f Format) SamplesPerChannel() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// FrameLen returns the number of interleaved samples in one frame.
func (f Format) FrameLen() int {
	return f.SamplesPerChannel() * f.Channels
}

// Validate checks that the format describes a usable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("invalid channel count: %d (supported: 1, 2)", f.Channels)
	}
	if f.FrameDuration <= 0 {
		return fmt.Errorf("invalid frame duration: %v", f.FrameDuration)
	}
	if f.SamplesPerChannel() == 0 {
		return fmt.Errorf("frame duration %v too short for %d Hz", f.FrameDuration, f.SampleRate)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch %v", f.Codec, f.SampleRate, f.Channels, f.FrameDuration)
}

// Frame is one fixed-duration slice of interleaved 16-bit PCM.
type Frame struct {
	Samples  []int16
	Channels int
}

// NewSilence returns a zeroed frame for the format.
func NewSilence(f Format) Frame {
	return Frame{
		Samples:  make([]int16, f.FrameLen()),
		Channels: f.Channels,
	}
}

// SamplesPerChannel returns the per-channel sample count of the frame.
func (fr Frame) SamplesPerChannel() int {
	if fr.Channels == 0 {
		return 0
	}
	return len(fr.Samples) / fr.Channels
}

// Duration returns the playback duration of the frame at the given rate.
func (fr Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(fr.SamplesPerChannel()) * time.Second / time.Duration(sampleRate)
}

// Clone returns a deep copy of the frame.
func (fr Frame) Clone() Frame {
	samples := make([]int16, len(fr.Samples))
	copy(samples, fr.Samples)
	return Frame{Samples: samples, Channels: fr.Channels}
}

// Conforms reports whether the frame has the shape the format requires.
func (fr Frame) Conforms(f Format) error {
	if fr.Channels != f.Channels || len(fr.Samples) != f.FrameLen() {
		return fmt.Errorf("%w: got %d samples x %dch, want %d x %dch",
			ErrFormatMismatch, fr.SamplesPerChannel(), fr.Channels, f.SamplesPerChannel(), f.Channels)
	}
	return nil
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}
