// ABOUTME: Audio sink tests
// ABOUTME: Verifies Sink implementations and volume scaling
package output

import (
	"errors"
	"testing"

	"github.com/Sendspin/hearme/pkg/audio"
)

func TestSinksImplementInterface(t *testing.T) {
	var _ Sink = (*Oto)(nil)
	var _ Sink = (*Discard)(nil)
	var _ Sink = (*Recorder)(nil)
	var _ VolumeControl = (*Oto)(nil)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	format := audio.DefaultFormat()

	if err := r.Submit(audio.NewSilence(format)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen before Open, got %v", err)
	}
	if err := r.Open(format); err != nil {
		t.Fatalf("Open: %v", err)
	}

	frame := audio.NewSilence(format)
	frame.Samples[0] = 7
	if err := r.Submit(frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	frame.Samples[0] = 9

	frames := r.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Samples[0] != 7 {
		t.Errorf("recorder aliased caller's buffer: got %d", frames[0].Samples[0])
	}

	select {
	case <-r.Notify():
	default:
		t.Error("expected notification after Submit")
	}

	r.Close()
	if !r.Closed() {
		t.Error("expected Closed() after Close")
	}
}

func TestRecorderFailAfter(t *testing.T) {
	r := NewRecorder()
	r.FailAfter = 2
	r.Open(audio.DefaultFormat())

	for i := 0; i < 2; i++ {
		if err := r.Submit(audio.NewSilence(audio.DefaultFormat())); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := r.Submit(audio.NewSilence(audio.DefaultFormat())); err == nil {
		t.Error("expected failure after FailAfter frames")
	}
}

func TestDiscard(t *testing.T) {
	d := NewDiscard()
	d.Open(audio.DefaultFormat())
	for i := 0; i < 3; i++ {
		d.Submit(audio.NewSilence(audio.DefaultFormat()))
	}
	if d.Frames() != 3 {
		t.Errorf("expected 3 frames, got %d", d.Frames())
	}
	d.Close()
	if err := d.Submit(audio.Frame{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after Close, got %v", err)
	}
}

func TestScaleSample(t *testing.T) {
	tests := []struct {
		name     string
		sample   int16
		volume   int
		muted    bool
		expected int16
	}{
		{"full volume", 1000, 100, false, 1000},
		{"half volume", 1000, 50, false, 500},
		{"muted", 1000, 100, true, 0},
		{"zero volume", -1000, 0, false, 0},
		{"negative half", -32768, 50, false, -16384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scaleSample(tt.sample, volumeMultiplier(tt.volume, tt.muted))
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestOtoVolumeClamp(t *testing.T) {
	o := NewOto(nil)
	if o.Volume() != 100 {
		t.Errorf("expected default volume 100, got %d", o.Volume())
	}
	o.SetVolume(150)
	if o.Volume() != 100 {
		t.Errorf("expected clamp to 100, got %d", o.Volume())
	}
	o.SetVolume(-5)
	if o.Volume() != 0 {
		t.Errorf("expected clamp to 0, got %d", o.Volume())
	}
	o.SetMuted(true)
	if !o.Muted() {
		t.Error("expected muted")
	}
	if err := o.Submit(audio.Frame{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}
