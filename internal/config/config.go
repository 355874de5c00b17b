// ABOUTME: YAML configuration for the hearme CLI
// ABOUTME: Defines the log, share, listen and metrics sections with their defaults
package config

import (
	"time"

	"github.com/Sendspin/hearme/internal/fanout"
	"github.com/Sendspin/hearme/internal/playback"
	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/hearme"
)

// Config is the root of a hearme.yaml file.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Share   ShareConfig   `yaml:"share"`
	Listen  ListenConfig  `yaml:"listen"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File additionally receives every log line when set.
	File string `yaml:"file"`
}

// ShareConfig holds the sharer settings.
type ShareConfig struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	Transport  string `yaml:"transport"`
	ListenAddr string `yaml:"listen_addr"`
	Advertise  bool   `yaml:"advertise"`

	Codec      string `yaml:"codec"`
	Bitrate    int    `yaml:"bitrate"`
	FrameMs    int    `yaml:"frame_ms"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`

	QueueSize     int    `yaml:"queue_size"`
	Overflow      string `yaml:"overflow"`
	EvictAfter    int    `yaml:"evict_after"`
	MaxListeners  int    `yaml:"max_listeners"`
	StreamToEmpty bool   `yaml:"stream_to_empty"`
}

// ListenConfig holds the listener settings.
type ListenConfig struct {
	Sink   string `yaml:"sink"`
	Volume int    `yaml:"volume"`

	Prefill       int    `yaml:"prefill"`
	MaxDepth      int    `yaml:"max_depth"`
	RebufferAfter int    `yaml:"rebuffer_after"`
	Underrun      string `yaml:"underrun"`

	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`

	// StallTimeout drops a connection that goes quiet for this long.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	s := &c.Share
	if s.Source == "" {
		s.Source = "tone"
	}
	if s.Transport == "" {
		s.Transport = "quic"
	}
	if s.ListenAddr == "" {
		s.ListenAddr = hearme.DefaultListenAddr
	}
	if s.Codec == "" {
		s.Codec = audio.DefaultCodec
	}
	if s.FrameMs == 0 {
		s.FrameMs = int(audio.DefaultFrameDuration / time.Millisecond)
	}
	if s.SampleRate == 0 {
		s.SampleRate = audio.DefaultSampleRate
	}
	if s.Channels == 0 {
		s.Channels = audio.DefaultChannels
	}
	if s.QueueSize == 0 {
		s.QueueSize = fanout.DefaultQueueSize
	}
	if s.Overflow == "" {
		s.Overflow = fanout.DropOldest.String()
	}

	l := &c.Listen
	if l.Sink == "" {
		l.Sink = "oto"
	}
	if l.Volume == 0 {
		l.Volume = 100
	}
	if l.Underrun == "" {
		l.Underrun = playback.Silence.String()
	}
	if l.MaxAttempts == 0 {
		l.MaxAttempts = hearme.DefaultMaxAttempts
	}
	if l.Backoff == 0 {
		l.Backoff = hearme.DefaultBackoff
	}
	if l.MaxBackoff == 0 {
		l.MaxBackoff = hearme.DefaultMaxBackoff
	}
	if l.StallTimeout == 0 {
		l.StallTimeout = hearme.DefaultStallTimeout
	}
}

// Format returns the session audio format described by the share section.
func (s ShareConfig) Format() audio.Format {
	return audio.Format{
		Codec:         s.Codec,
		SampleRate:    s.SampleRate,
		Channels:      s.Channels,
		FrameDuration: time.Duration(s.FrameMs) * time.Millisecond,
	}
}

// Policy parses the overflow policy. Call after Validate.
func (s ShareConfig) Policy() fanout.Policy {
	p, _ := fanout.ParsePolicy(s.Overflow)
	return p
}

// UnderrunPolicy parses the underrun policy. Call after Validate.
func (l ListenConfig) UnderrunPolicy() playback.UnderrunPolicy {
	p, _ := playback.ParseUnderrunPolicy(l.Underrun)
	return p
}
