// ABOUTME: Loads and validates hearme YAML configuration
// ABOUTME: Rejects unknown keys and reports every invalid value at once
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sendspin/hearme/internal/fanout"
	"github.com/Sendspin/hearme/internal/playback"
	"github.com/Sendspin/hearme/pkg/ticket"
)

var (
	validLevels     = []string{"debug", "info", "warn", "error"}
	validFormats    = []string{"text", "json"}
	validTransports = []string{ticket.TransportQUIC, ticket.TransportWebSocket}
	validCodecs     = []string{"opus", "pcm"}
	validSinks      = []string{"oto", "discard"}
)

// Load reads the YAML file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns a joined error listing every invalid value.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %v", c.Log.Level, validLevels))
	}
	if !slices.Contains(validFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: %v", c.Log.Format, validFormats))
	}

	s := c.Share
	if !slices.Contains(validTransports, s.Transport) {
		errs = append(errs, fmt.Errorf("share.transport %q is invalid; valid values: %v", s.Transport, validTransports))
	}
	if !slices.Contains(validCodecs, s.Codec) {
		errs = append(errs, fmt.Errorf("share.codec %q is invalid; valid values: %v", s.Codec, validCodecs))
	}
	if err := s.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("share: %w", err))
	}
	if s.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("share.bitrate %d must not be negative", s.Bitrate))
	}
	if s.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("share.queue_size %d must be at least 1", s.QueueSize))
	}
	if _, err := fanout.ParsePolicy(s.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("share.overflow: %w", err))
	}
	if s.EvictAfter < 0 {
		errs = append(errs, fmt.Errorf("share.evict_after %d must not be negative", s.EvictAfter))
	}
	if s.MaxListeners < 0 {
		errs = append(errs, fmt.Errorf("share.max_listeners %d must not be negative", s.MaxListeners))
	}

	l := c.Listen
	if !slices.Contains(validSinks, l.Sink) {
		errs = append(errs, fmt.Errorf("listen.sink %q is invalid; valid values: %v", l.Sink, validSinks))
	}
	if l.Volume < 0 || l.Volume > 100 {
		errs = append(errs, fmt.Errorf("listen.volume %d is out of range [0, 100]", l.Volume))
	}
	if l.Prefill < 0 || l.MaxDepth < 0 {
		errs = append(errs, errors.New("listen.prefill and listen.max_depth must not be negative"))
	}
	if l.MaxDepth > 0 && l.Prefill > l.MaxDepth {
		errs = append(errs, fmt.Errorf("listen.prefill %d exceeds listen.max_depth %d", l.Prefill, l.MaxDepth))
	}
	if _, err := playback.ParseUnderrunPolicy(l.Underrun); err != nil {
		errs = append(errs, fmt.Errorf("listen.underrun: %w", err))
	}
	if l.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("listen.max_attempts %d must be at least 1", l.MaxAttempts))
	}
	if l.Backoff < 0 || l.MaxBackoff < l.Backoff {
		errs = append(errs, fmt.Errorf("listen.backoff %v and listen.max_backoff %v are inconsistent", l.Backoff, l.MaxBackoff))
	}
	if l.StallTimeout < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("listen.stall_timeout %v must be at least 100ms", l.StallTimeout))
	}

	return errors.Join(errs...)
}
