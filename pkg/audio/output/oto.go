// ABOUTME: Oto-based audio sink implementation
// ABOUTME: Handles PCM playback with software volume control using oto library
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

// Oto sink implementation using oto library
type Oto struct {
	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	buf        []byte
	volume     atomic.Int32
	muted      atomic.Bool
	logger     *slog.Logger
}

// NewOto creates a new Oto sink
func NewOto(logger *slog.Logger) *Oto {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Oto{logger: logger.With("component", "oto")}
	o.volume.Store(100)
	return o
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		return nil
	}

	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   2 * format.FrameDuration,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoFormat = format
	})
	if otoErr != nil {
		return otoErr
	}
	if otoFormat.SampleRate != format.SampleRate || otoFormat.Channels != format.Channels {
		return fmt.Errorf("audio device already opened at %dHz %dch, cannot switch to %dHz %dch",
			otoFormat.SampleRate, otoFormat.Channels, format.SampleRate, format.Channels)
	}
	if err := otoCtx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	o.format = format
	o.buf = make([]byte, format.FrameLen()*2)
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.logger.Info("audio output initialized", "rate", format.SampleRate, "channels", format.Channels)
	return nil
}

// Submit writes one frame to the player pipe
func (o *Oto) Submit(frame audio.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player == nil {
		return ErrNotOpen
	}

	multiplier := volumeMultiplier(int(o.volume.Load()), o.muted.Load())
	if len(o.buf) < len(frame.Samples)*2 {
		o.buf = make([]byte, len(frame.Samples)*2)
	}
	out := o.buf[:len(frame.Samples)*2]
	for i, sample := range frame.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(scaleSample(sample, multiplier)))
	}

	if _, err := o.pipeWriter.Write(out); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close releases output resources. The process-wide context is suspended.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if otoCtx != nil {
		return otoCtx.Suspend()
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	o.volume.Store(int32(clampVolume(volume)))
}

// Volume returns current volume
func (o *Oto) Volume() int {
	return int(o.volume.Load())
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.muted.Store(muted)
}

// Muted returns mute state
func (o *Oto) Muted() bool {
	return o.muted.Load()
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}

func volumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

// scaleSample applies the multiplier with clipping protection
func scaleSample(sample int16, multiplier float64) int16 {
	scaled := int32(float64(sample) * multiplier)
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
