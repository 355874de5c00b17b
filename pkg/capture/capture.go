// ABOUTME: Frame source abstraction feeding the share pipeline
// ABOUTME: Parses source specs and enumerates what can be captured on this machine
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Sendspin/hearme/pkg/audio"
)

// ErrClosed is returned by NextFrame after Close.
var ErrClosed = errors.New("source closed")

// Source yields fixed-size PCM frames in the session format. NextFrame
// returns io.EOF when the stream has ended; any other error is fatal to
// the share session.
type Source interface {
	Format() audio.Format
	NextFrame(ctx context.Context) (audio.Frame, error)
	Close() error
}

// Paced is implemented by sources whose NextFrame already blocks until the
// frame is due. Other sources are paced by the caller.
type Paced interface {
	Paced() bool
}

// IsPaced reports whether s keeps its own clock.
func IsPaced(s Source) bool {
	p, ok := s.(Paced)
	return ok && p.Paced()
}

// Kinds of capturable sources
const (
	KindTone   = "tone"
	KindFile   = "file"
	KindDevice = "device"
)

// Info describes one capturable source.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Default bool   `json:"default,omitempty"`
}

// Spec returns the string Open accepts for this source.
func (i Info) Spec() string {
	if i.ID == "" {
		return i.Kind
	}
	return i.Kind + ":" + i.ID
}

// ListSources returns the built-in tone followed by every capture device.
// A failure to enumerate devices is logged and yields the tone alone.
func ListSources(logger *slog.Logger) []Info {
	if logger == nil {
		logger = slog.Default()
	}
	out := []Info{{Name: fmt.Sprintf("Test tone (%.0f Hz)", DefaultToneFrequency), Kind: KindTone}}

	devices, err := ListDevices()
	if err != nil {
		logger.Warn("capture device enumeration failed", "error", err)
		return out
	}
	return append(out, devices...)
}

// Open creates a source from a spec string:
//
//	tone | tone:<hz> | file:<path> | <path>.mp3 | <path>.flac | device | device:<id>
//
// An empty spec selects the test tone.
func Open(spec string, format audio.Format, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")

	switch strings.ToLower(kind) {
	case "", KindTone:
		freq := DefaultToneFrequency
		if arg != "" {
			f, err := strconv.ParseFloat(arg, 64)
			if err != nil || f <= 0 || f >= float64(format.SampleRate)/2 {
				return nil, fmt.Errorf("invalid tone frequency %q", arg)
			}
			freq = f
		}
		return NewTone(format, freq, false), nil

	case KindFile:
		if arg == "" {
			return nil, errors.New("file source requires a path")
		}
		return OpenFile(arg, format, true, logger)

	case KindDevice:
		return OpenDevice(arg, format, logger)
	}

	switch strings.ToLower(filepath.Ext(spec)) {
	case ".mp3", ".flac":
		return OpenFile(spec, format, true, logger)
	}
	return nil, fmt.Errorf("unknown source %q (expected tone, file:<path> or device[:<id>])", spec)
}
