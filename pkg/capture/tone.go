// ABOUTME: Sine test tone source
// ABOUTME: Generates a continuous tone at half scale, optionally in real time
package capture

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/Sendspin/hearme/pkg/audio"
)

// DefaultToneFrequency is A4.
const DefaultToneFrequency = 440.0

// Tone generates a sine wave on every channel
type Tone struct {
	format    audio.Format
	frequency float64
	realtime  bool
	index     uint64
	frames    uint64
	start     time.Time
	closed    atomic.Bool
}

// NewTone creates a tone generator. A realtime tone blocks in NextFrame
// until each frame is due; otherwise frames are produced on demand.
func NewTone(format audio.Format, frequency float64, realtime bool) *Tone {
	return &Tone{
		format:    format,
		frequency: frequency,
		realtime:  realtime,
	}
}

func (t *Tone) Format() audio.Format { return t.format }

// Paced reports whether the tone keeps its own clock.
func (t *Tone) Paced() bool { return t.realtime }

// Frequency returns the tone frequency in Hz.
func (t *Tone) Frequency() float64 { return t.frequency }

func (t *Tone) NextFrame(ctx context.Context) (audio.Frame, error) {
	if t.closed.Load() {
		return audio.Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	if t.realtime {
		if t.start.IsZero() {
			t.start = time.Now()
		}
		due := t.start.Add(time.Duration(t.frames) * t.format.FrameDuration)
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return audio.Frame{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	frame := audio.NewSilence(t.format)
	perChannel := t.format.SamplesPerChannel()
	for i := 0; i < perChannel; i++ {
		phase := float64(t.index+uint64(i)) / float64(t.format.SampleRate)
		v := int16(math.Sin(2*math.Pi*t.frequency*phase) * 32767.0 * 0.5)
		for ch := 0; ch < t.format.Channels; ch++ {
			frame.Samples[i*t.format.Channels+ch] = v
		}
	}
	t.index += uint64(perChannel)
	t.frames++
	return frame, nil
}

func (t *Tone) Close() error {
	t.closed.Store(true)
	return nil
}
