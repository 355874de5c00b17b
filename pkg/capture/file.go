// ABOUTME: File frame source for MP3 and FLAC
// ABOUTME: Decodes, maps channels, resamples to the session rate and re-chunks into frames
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/audio/resample"
)

// pcmReader yields interleaved samples left-justified in 24 bits.
type pcmReader interface {
	Read(samples []int32) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// File streams a decoded audio file as session frames
type File struct {
	name    string
	format  audio.Format
	loop    bool
	open    func() (pcmReader, error)
	r       pcmReader
	rs      *resample.Resampler
	srcCh   int
	raw     []int32
	mapped  []int32
	conv    []int32
	pending []int16
	fresh   bool
	eof     bool
	logger  *slog.Logger
}

// OpenFile opens an MP3 or FLAC file. A looping file restarts at its end;
// otherwise NextFrame returns io.EOF after the last (zero padded) frame.
func OpenFile(path string, format audio.Format, loop bool, logger *slog.Logger) (*File, error) {
	var open func() (pcmReader, error)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		open = func() (pcmReader, error) { return openMP3(path) }
	case ".flac":
		open = func() (pcmReader, error) { return openFLAC(path) }
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return newFile(name, open, format, loop, logger)
}

func newFile(name string, open func() (pcmReader, error), format audio.Format, loop bool, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := open()
	if err != nil {
		return nil, err
	}
	if r.Channels() < 1 || r.SampleRate() <= 0 {
		r.Close()
		return nil, fmt.Errorf("%s: invalid stream (%d Hz, %d channels)", name, r.SampleRate(), r.Channels())
	}

	f := &File{
		name:   name,
		format: format,
		loop:   loop,
		open:   open,
		r:      r,
		rs:     resample.New(r.SampleRate(), format.SampleRate, format.Channels),
		srcCh:  r.Channels(),
		raw:    make([]int32, 1024*r.Channels()),
		fresh:  true,
		logger: logger.With("component", "file-source", "file", name),
	}
	f.logger.Info("loaded audio file",
		"rate", r.SampleRate(), "channels", r.Channels(), "resampling", !f.rs.Passthrough())
	return f, nil
}

func (f *File) Format() audio.Format { return f.format }

// Name returns the file name without extension.
func (f *File) Name() string { return f.name }

func (f *File) NextFrame(ctx context.Context) (audio.Frame, error) {
	frameLen := f.format.FrameLen()
	for len(f.pending) < frameLen {
		if err := ctx.Err(); err != nil {
			return audio.Frame{}, err
		}
		if f.r == nil {
			return audio.Frame{}, ErrClosed
		}
		if f.eof {
			if len(f.pending) == 0 {
				return audio.Frame{}, io.EOF
			}
			f.pending = append(f.pending, make([]int16, frameLen-len(f.pending))...)
			break
		}
		if err := f.fill(); err != nil {
			return audio.Frame{}, err
		}
	}

	frame := audio.Frame{
		Samples:  make([]int16, frameLen),
		Channels: f.format.Channels,
	}
	copy(frame.Samples, f.pending)
	n := copy(f.pending, f.pending[frameLen:])
	f.pending = f.pending[:n]
	return frame, nil
}

// fill decodes one chunk into pending, handling end of file.
func (f *File) fill() error {
	n, err := f.r.Read(f.raw)
	n -= n % f.srcCh
	if n > 0 {
		f.fresh = false
		f.mapped = mapChannels(f.mapped[:0], f.raw[:n], f.srcCh, f.format.Channels)
		f.conv = f.rs.Resample(f.conv[:0], f.mapped)
		for _, v := range f.conv {
			f.pending = append(f.pending, audio.SampleToInt16(v))
		}
	}

	switch {
	case err == nil:
		return nil
	case !errors.Is(err, io.EOF):
		return fmt.Errorf("decode %s: %w", f.name, err)
	case !f.loop:
		f.eof = true
		return nil
	case f.fresh:
		return fmt.Errorf("%s: no audio data", f.name)
	}

	f.logger.Debug("looping")
	f.r.Close()
	r, err := f.open()
	if err != nil {
		f.r = nil
		return fmt.Errorf("reopen %s: %w", f.name, err)
	}
	f.r = r
	f.fresh = true
	return nil
}

func (f *File) Close() error {
	if f.r == nil {
		return nil
	}
	err := f.r.Close()
	f.r = nil
	return err
}

// mapChannels converts interleaved samples from src to dst channels. Mono
// is duplicated, stereo to mono is averaged and extra channels are dropped.
func mapChannels(out, in []int32, src, dst int) []int32 {
	if src == dst {
		return append(out, in...)
	}
	frames := len(in) / src
	for i := 0; i < frames; i++ {
		s := in[i*src : (i+1)*src]
		for ch := 0; ch < dst; ch++ {
			switch {
			case src == 1:
				out = append(out, s[0])
			case dst == 1:
				out = append(out, int32((int64(s[0])+int64(s[1]))/2))
			case ch < src:
				out = append(out, s[ch])
			default:
				out = append(out, 0)
			}
		}
	}
	return out
}

// mp3Reader decodes MP3 (always 16-bit stereo)
type mp3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
}

func openMP3(path string) (*mp3Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	return &mp3Reader{file: f, decoder: decoder}, nil
}

func (r *mp3Reader) Read(samples []int32) (int, error) {
	need := len(samples) * 2
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	n, err := r.decoder.Read(r.buf[:need])
	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(r.buf[i*2:])))
	}
	return count, err
}

func (r *mp3Reader) SampleRate() int { return r.decoder.SampleRate() }
func (r *mp3Reader) Channels() int   { return 2 }
func (r *mp3Reader) Close() error    { return r.file.Close() }

// flacReader decodes FLAC frames, keeping samples that did not fit the
// caller's buffer for the next Read.
type flacReader struct {
	stream   *flac.Stream
	channels int
	bits     int
	frameBuf []int32
	pending  []int32
}

func openFLAC(path string) (*flacReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	return &flacReader{
		stream:   stream,
		channels: int(stream.Info.NChannels),
		bits:     int(stream.Info.BitsPerSample),
	}, nil
}

func (r *flacReader) Read(samples []int32) (int, error) {
	n := 0
	for n < len(samples) {
		if len(r.pending) == 0 {
			frame, err := r.stream.ParseNext()
			if err != nil {
				if n > 0 && errors.Is(err, io.EOF) {
					return n, nil
				}
				return n, err
			}
			r.frameBuf = r.frameBuf[:0]
			for i := 0; i < int(frame.BlockSize); i++ {
				for ch := 0; ch < r.channels; ch++ {
					r.frameBuf = append(r.frameBuf, scaleTo24(frame.Subframes[ch].Samples[i], r.bits))
				}
			}
			r.pending = r.frameBuf
		}
		c := copy(samples[n:], r.pending)
		n += c
		r.pending = r.pending[c:]
	}
	return n, nil
}

func (r *flacReader) SampleRate() int { return int(r.stream.Info.SampleRate) }
func (r *flacReader) Channels() int   { return r.channels }
// Close also closes the file, which flac.Stream owns.
func (r *flacReader) Close() error { return r.stream.Close() }

// scaleTo24 left-justifies a sample of the given bit depth in 24 bits.
func scaleTo24(sample int32, bits int) int32 {
	switch shift := 24 - bits; {
	case shift > 0:
		return sample << shift
	case shift < 0:
		return sample >> -shift
	default:
		return sample
	}
}
