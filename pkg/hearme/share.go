// ABOUTME: Share session: one source encoded once and fanned out to every listener
// ABOUTME: Runs the accept loop, admission handshakes and the fixed-cadence frame loop
package hearme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/hearme/internal/discovery"
	"github.com/Sendspin/hearme/internal/fanout"
	"github.com/Sendspin/hearme/internal/observe"
	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/audio/encode"
	"github.com/Sendspin/hearme/pkg/capture"
	"github.com/Sendspin/hearme/pkg/packet"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

// ShareConfig configures a share session
type ShareConfig struct {
	// Name is shown to listeners and used for mDNS.
	Name string

	// Source provides the audio (required). The session closes it.
	Source capture.Source

	// Listener accepts listener connections (required). The session closes it.
	Listener transport.Listener

	// Transport and Fingerprint are copied into the ticket.
	Transport   string
	Fingerprint string

	// Bitrate for lossy codecs in bits per second. Zero uses the codec default.
	Bitrate int

	// QueueSize, Overflow and EvictAfter configure each listener queue.
	QueueSize  int
	Overflow   fanout.Policy
	EvictAfter int

	// MaxListeners refuses further listeners once reached. Zero is unlimited.
	MaxListeners int

	// StreamToEmptyAudience starts the frame loop without waiting for the
	// first listener.
	StreamToEmptyAudience bool

	HandshakeTimeout time.Duration

	// Advertise publishes the ticket over mDNS.
	Advertise bool

	OnStateChange func(ShareState)
	OnError       func(error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// ShareStats is a snapshot of a share session.
type ShareStats struct {
	State      ShareState
	Listeners  int
	FramesSent uint64
	Overruns   uint64
	Uptime     time.Duration
}

// ListenerInfo describes one attached listener.
type ListenerInfo struct {
	ID        string
	Remote    string
	Queued    int
	Capacity  int
	Sent      uint64
	Dropped   uint64
	Connected time.Duration
}

// ShareSession distributes one source to many listeners
type ShareSession struct {
	cfg     ShareConfig
	format  audio.Format
	logger  *slog.Logger
	metrics *observe.Metrics

	// lifecycle serializes Start against Stop.
	lifecycle sync.Mutex
	doneOnce  sync.Once

	mu      sync.Mutex
	state   ShareState
	ticket  ticket.Ticket
	remotes map[string]string
	started time.Time
	err     error

	fan        *fanout.Fanout
	enc        encode.Encoder
	advertiser *discovery.Advertiser
	streamOnce sync.Once
	streaming  chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	framesSent uint64
	overruns   uint64
	statsMu    sync.Mutex
}

// NewShareSession validates cfg and returns an idle session
func NewShareSession(cfg ShareConfig) (*ShareSession, error) {
	if cfg.Source == nil {
		return nil, errors.New("share session requires a source")
	}
	if cfg.Listener == nil {
		return nil, errors.New("share session requires a transport listener")
	}
	format := cfg.Source.Format()
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("source format: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "hearme"
	}
	if cfg.Transport == "" {
		cfg.Transport = ticket.TransportQUIC
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ShareSession{
		cfg:       cfg,
		format:    format,
		logger:    cfg.Logger.With("component", "share"),
		metrics:   cfg.Metrics,
		remotes:   make(map[string]string),
		streaming: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start acquires the encoder, mints the ticket and begins accepting
// listeners. The session runs until Stop, ctx cancellation or a fatal
// source error.
func (s *ShareSession) Start(ctx context.Context) (ticket.Ticket, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case ShareIdle:
	case ShareStopped:
		return ticket.Ticket{}, ErrSessionStopped
	default:
		return ticket.Ticket{}, ErrAlreadyStarted
	}

	enc, err := encode.New(s.format, encode.Options{Bitrate: s.cfg.Bitrate})
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("create encoder: %w", err)
	}
	token, err := ticket.NewToken()
	if err != nil {
		enc.Close()
		return ticket.Ticket{}, err
	}

	t := ticket.Ticket{
		Version:     ticket.Version,
		SessionID:   uuid.NewString(),
		Name:        s.cfg.Name,
		Transport:   s.cfg.Transport,
		Addrs:       s.cfg.Listener.Addrs(),
		Fingerprint: s.cfg.Fingerprint,
		Token:       token,
		Format:      s.format,
	}
	if err := t.Validate(); err != nil {
		enc.Close()
		return ticket.Ticket{}, err
	}

	s.enc = enc
	s.fan = fanout.New(fanout.Config{
		QueueSize:  s.cfg.QueueSize,
		Policy:     s.cfg.Overflow,
		EvictAfter: s.cfg.EvictAfter,
		OnRemove:   s.listenerLeft,
		Metrics:    s.metrics,
		Logger:     s.cfg.Logger,
	})
	s.logger = s.logger.With("session", t.SessionID)

	if s.cfg.Advertise {
		s.advertise(t)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ticket = t
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(ShareAdvertising)
	s.logger.Info("share session started",
		"name", s.cfg.Name, "transport", t.Transport, "addrs", t.Addrs, "format", s.format.String())

	if s.cfg.StreamToEmptyAudience {
		s.beginStreaming()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.acceptLoop(gctx, g) })
	g.Go(func() error { return s.frameLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.cfg.Listener.Close()
		s.fan.Close()
		return nil
	})
	go s.finish(g)

	return t, nil
}

func (s *ShareSession) advertise(t ticket.Ticket) {
	encoded, err := t.Encode()
	if err != nil {
		s.logger.Warn("failed to encode ticket for mDNS", "error", err)
		return
	}
	port := 0
	if len(t.Addrs) > 0 {
		if _, p, err := net.SplitHostPort(t.Addrs[0]); err == nil {
			port, _ = strconv.Atoi(p)
		}
	}
	adv, err := discovery.Advertise(discovery.Config{
		Name:   s.cfg.Name,
		Port:   port,
		Ticket: encoded,
		Logger: s.cfg.Logger,
	})
	if err != nil {
		s.logger.Warn("failed to start mDNS advertisement", "error", err)
		return
	}
	s.advertiser = adv
}

// finish waits for every task and releases what the session owns.
func (s *ShareSession) finish(g *errgroup.Group) {
	err := g.Wait()
	if errors.Is(err, errEndOfStream) {
		s.logger.Info("source ended")
		err = nil
	}

	s.cfg.Source.Close()
	s.enc.Close()
	if s.advertiser != nil {
		s.advertiser.Close()
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("share session failed", "error", err)
	} else {
		s.logger.Info("share session stopped", "frames", s.Stats().FramesSent)
	}
	s.setState(ShareStopped)
	s.closeDone()
	if err != nil && s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

func (s *ShareSession) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		conn, err := s.cfg.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		g.Go(func() error {
			s.admit(ctx, conn)
			return nil
		})
	}
}

// admit runs the handshake and attaches the connection to the fan-out.
func (s *ShareSession) admit(ctx context.Context, conn transport.Conn) {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	var reject error
	if s.cfg.MaxListeners > 0 && s.fan.Len() >= s.cfg.MaxListeners {
		reject = transport.ErrSessionFull
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	err := transport.Admit(hctx, conn, s.ticket.Token, reject)
	cancel()
	if err != nil {
		conn.Close()
		s.metrics.RecordHandshakeFailure(ctx, handshakeReason(err))
		s.logger.Warn("listener rejected", "remote", remote, "error", err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.remotes[id] = remote
	s.mu.Unlock()

	if _, err := s.fan.Add(id, conn); err != nil {
		conn.Close()
		s.mu.Lock()
		delete(s.remotes, id)
		s.mu.Unlock()
		return
	}
	s.logger.Info("listener joined", "id", id, "remote", remote)
	s.beginStreaming()

	// Listeners never send after the handshake; a read returning means
	// the connection is gone.
	_, err = io.Copy(io.Discard, conn)
	if err == nil {
		err = io.EOF
	}
	s.fan.Remove(id, fmt.Errorf("connection closed: %w", err))
}

func (s *ShareSession) listenerLeft(id string, cause error) {
	s.mu.Lock()
	remote := s.remotes[id]
	delete(s.remotes, id)
	s.mu.Unlock()
	s.logger.Debug("listener released", "id", id, "remote", remote, "cause", cause)
}

func handshakeReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrBadToken):
		return "bad_token"
	case errors.Is(err, transport.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, transport.ErrSessionFull):
		return "full"
	case errors.Is(err, transport.ErrVersionMismatch):
		return "version"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "io"
	}
}

func (s *ShareSession) beginStreaming() {
	s.streamOnce.Do(func() {
		close(s.streaming)
		s.setState(ShareStreaming)
	})
}

// frameLoop pulls, encodes and broadcasts one frame per period.
func (s *ShareSession) frameLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.streaming:
	}

	period := s.format.FrameDuration
	var tick <-chan time.Time
	if !capture.IsPaced(s.cfg.Source) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	s.mu.Lock()
	s.started = start
	s.mu.Unlock()

	var seq uint64
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}

		frame, err := s.cfg.Source.NextFrame(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				return errEndOfStream
			default:
				return fmt.Errorf("%w: %w", ErrSourceFailed, err)
			}
		}
		if err := frame.Conforms(s.format); err != nil {
			return fmt.Errorf("%w: %w", ErrSourceFailed, err)
		}

		encStart := time.Now()
		payload, err := s.enc.Encode(frame)
		if err != nil {
			return fmt.Errorf("%w: encode frame %d: %w", ErrSourceFailed, seq, err)
		}
		took := time.Since(encStart)
		s.metrics.FramesEncoded.Add(ctx, 1)
		s.metrics.EncodeDuration.Record(ctx, float64(took.Microseconds())/1000)
		if took > period {
			s.metrics.EncodeOverruns.Add(ctx, 1)
			s.statsMu.Lock()
			s.overruns++
			s.statsMu.Unlock()
			s.logger.Warn("encode exceeded frame period", "seq", seq, "took", took)
		}

		s.fan.Broadcast(ctx, packet.Packet{
			Seq:       seq,
			Timestamp: uint64(time.Since(start).Microseconds()),
			Payload:   payload,
		})
		seq++

		s.statsMu.Lock()
		s.framesSent = seq
		s.statsMu.Unlock()
	}
}

func (s *ShareSession) setState(state ShareState) {
	s.mu.Lock()
	if s.state == state || s.state == ShareStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("share state changed", "from", prev, "to", state)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

// Stop ends the session and waits for it to release its resources.
func (s *ShareSession) Stop() error {
	s.lifecycle.Lock()
	s.mu.Lock()
	if s.state == ShareIdle {
		s.state = ShareStopped
		s.mu.Unlock()
		s.lifecycle.Unlock()
		s.cfg.Source.Close()
		s.cfg.Listener.Close()
		s.closeDone()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()
	s.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
	return nil
}

func (s *ShareSession) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Wait blocks until the session stopped and returns its fatal cause, or
// nil after Stop or a clean end of stream.
func (s *ShareSession) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has stopped.
func (s *ShareSession) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *ShareSession) State() ShareState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticket returns the ticket minted by Start.
func (s *ShareSession) Ticket() ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket
}

// Format returns the session audio format.
func (s *ShareSession) Format() audio.Format {
	return s.format
}

// Stats returns a snapshot of session counters.
func (s *ShareSession) Stats() ShareStats {
	s.mu.Lock()
	st := ShareStats{State: s.state}
	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started)
	}
	s.mu.Unlock()

	if s.fan != nil {
		st.Listeners = s.fan.Len()
	}
	s.statsMu.Lock()
	st.FramesSent = s.framesSent
	st.Overruns = s.overruns
	s.statsMu.Unlock()
	return st
}

// Listeners describes every attached listener, longest connected first.
func (s *ShareSession) Listeners() []ListenerInfo {
	if s.fan == nil {
		return nil
	}
	snap := s.fan.Snapshot()
	out := make([]ListenerInfo, 0, len(snap))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range snap {
		out = append(out, ListenerInfo{
			ID:        l.ID,
			Remote:    s.remotes[l.ID],
			Queued:    l.Queued,
			Capacity:  l.Capacity,
			Sent:      l.Sent,
			Dropped:   l.Dropped,
			Connected: l.Connected,
		})
	}
	return out
}
