// ABOUTME: System audio capture through miniaudio (malgo)
// ABOUTME: Chunks callback samples into session frames on a drop-oldest channel
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/Sendspin/hearme/pkg/audio"
)

// LoopbackID selects the system output loopback (WASAPI only).
const LoopbackID = "loopback"

// deviceQueue holds 160ms of 20ms frames.
const deviceQueue = 8

// ListDevices enumerates capture devices. IDs are list indices.
func ListDevices() ([]Info, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	out := make([]Info, 0, len(infos))
	for i := range infos {
		out = append(out, Info{
			ID:      strconv.Itoa(i),
			Name:    infos[i].Name(),
			Kind:    KindDevice,
			Default: infos[i].IsDefault != 0,
		})
	}
	return out, nil
}

// Device captures from a system input device
type Device struct {
	format    audio.Format
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	frames    chan audio.Frame
	pending   []int16
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
	logger    *slog.Logger
}

// OpenDevice starts capturing. id is empty for the default device, a list
// index or name fragment from ListDevices, or LoopbackID.
func OpenDevice(id string, format audio.Format, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	d := &Device{
		format: format,
		mctx:   mctx,
		frames: make(chan audio.Frame, deviceQueue),
		closed: make(chan struct{}),
		logger: logger.With("component", "device-source"),
	}

	kind := malgo.Capture
	if id == LoopbackID {
		kind = malgo.Loopback
	}
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	name := "default"
	if id != "" && id != LoopbackID {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			d.release()
			return nil, fmt.Errorf("list capture devices: %w", err)
		}
		idx, err := matchDevice(infos, id)
		if err != nil {
			d.release()
			return nil, err
		}
		cfg.Capture.DeviceID = infos[idx].ID.Pointer()
		name = infos[idx].Name()
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { d.onSamples(input) },
	})
	if err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		d.release()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}
	d.device = device

	d.logger.Info("capture started", "device", name, "format", format.String())
	return d, nil
}

func matchDevice(infos []malgo.DeviceInfo, id string) (int, error) {
	if idx, err := strconv.Atoi(id); err == nil {
		if idx < 0 || idx >= len(infos) {
			return 0, fmt.Errorf("capture device %d out of range (have %d)", idx, len(infos))
		}
		return idx, nil
	}
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), strings.ToLower(id)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no capture device matches %q", id)
}

// onSamples runs on the audio thread.
func (d *Device) onSamples(input []byte) {
	for i := 0; i+1 < len(input); i += 2 {
		d.pending = append(d.pending, int16(binary.LittleEndian.Uint16(input[i:])))
	}

	frameLen := d.format.FrameLen()
	for len(d.pending) >= frameLen {
		frame := audio.Frame{
			Samples:  make([]int16, frameLen),
			Channels: d.format.Channels,
		}
		copy(frame.Samples, d.pending)
		n := copy(d.pending, d.pending[frameLen:])
		d.pending = d.pending[:n]
		d.enqueue(frame)
	}
}

// enqueue never blocks the audio thread; the oldest frame gives way.
func (d *Device) enqueue(frame audio.Frame) {
	for {
		select {
		case d.frames <- frame:
			return
		default:
		}
		select {
		case <-d.frames:
			d.dropped.Add(1)
		default:
		}
	}
}

func (d *Device) Format() audio.Format { return d.format }

// Paced reports true: frames arrive at the device clock.
func (d *Device) Paced() bool { return true }

// Dropped returns the number of frames lost because the consumer fell behind.
func (d *Device) Dropped() uint64 { return d.dropped.Load() }

func (d *Device) NextFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-d.closed:
		return audio.Frame{}, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-d.closed:
		return audio.Frame{}, ErrClosed
	case frame := <-d.frames:
		return frame, nil
	}
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		if d.device != nil {
			_ = d.device.Stop()
			d.device.Uninit()
		}
		d.release()
		d.logger.Info("capture stopped", "dropped", d.dropped.Load())
	})
	return nil
}

func (d *Device) release() {
	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
	}
}
