// ABOUTME: Tests for audio types
// ABOUTME: Tests format arithmetic, frame helpers and sample conversion
package audio

import (
	"errors"
	"testing"
	"time"
)

func TestFormatSamplesPerChannel(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		expected int
	}{
		{"48k 20ms", Format{SampleRate: 48000, Channels: 2, FrameDuration: 20 * time.Millisecond}, 960},
		{"48k 10ms", Format{SampleRate: 48000, Channels: 2, FrameDuration: 10 * time.Millisecond}, 480},
		{"48k 2.5ms", Format{SampleRate: 48000, Channels: 1, FrameDuration: 2500 * time.Microsecond}, 120},
		{"44.1k 20ms", Format{SampleRate: 44100, Channels: 2, FrameDuration: 20 * time.Millisecond}, 882},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.SamplesPerChannel(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
			if got := tt.format.FrameLen(); got != tt.expected*tt.format.Channels {
				t.Errorf("FrameLen: expected %d, got %d", tt.expected*tt.format.Channels, got)
			}
		})
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"default", DefaultFormat(), false},
		{"mono", Format{Codec: "pcm", SampleRate: 16000, Channels: 1, FrameDuration: 10 * time.Millisecond}, false},
		{"zero rate", Format{SampleRate: 0, Channels: 2, FrameDuration: 20 * time.Millisecond}, true},
		{"too many channels", Format{SampleRate: 48000, Channels: 6, FrameDuration: 20 * time.Millisecond}, true},
		{"zero duration", Format{SampleRate: 48000, Channels: 2}, true},
		{"sub-sample duration", Format{SampleRate: 8000, Channels: 1, FrameDuration: time.Microsecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameHelpers(t *testing.T) {
	format := DefaultFormat()
	frame := NewSilence(format)

	if frame.SamplesPerChannel() != 960 {
		t.Errorf("expected 960 samples per channel, got %d", frame.SamplesPerChannel())
	}
	if frame.Duration(format.SampleRate) != 20*time.Millisecond {
		t.Errorf("expected 20ms, got %v", frame.Duration(format.SampleRate))
	}
	if err := frame.Conforms(format); err != nil {
		t.Errorf("silence frame should conform: %v", err)
	}

	clone := frame.Clone()
	clone.Samples[0] = 42
	if frame.Samples[0] != 0 {
		t.Error("Clone shares backing array with original")
	}

	short := Frame{Samples: make([]int16, 100), Channels: 2}
	if err := short.Conforms(format); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("expected ErrFormatMismatch, got %v", err)
	}

	var empty Frame
	if empty.SamplesPerChannel() != 0 {
		t.Error("zero frame should report zero samples")
	}
}

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"max", 32767, 32767 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestSampleToInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected int16
	}{
		{"zero", 0, 0},
		{"positive", 100 << 8, 100},
		{"negative", -100 << 8, -100},
		{"24bit positive", 1000000, 3906},
		{"24bit negative", -1000000, -3907},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleToInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}
