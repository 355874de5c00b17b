// ABOUTME: Listen session: one connection to a sharer feeding a playback buffer
// ABOUTME: Reconnects with bounded backoff and plays on a fixed clock meanwhile
package hearme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/hearme/internal/observe"
	"github.com/Sendspin/hearme/internal/playback"
	"github.com/Sendspin/hearme/pkg/audio/decode"
	"github.com/Sendspin/hearme/pkg/audio/output"
	"github.com/Sendspin/hearme/pkg/packet"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

// Reconnect defaults
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 250 * time.Millisecond
	DefaultMaxBackoff  = 2 * time.Second

	// DefaultStallTimeout is how long a connection may go without a
	// packet before it counts as dropped.
	DefaultStallTimeout = 2 * time.Second
)

// ListenConfig configures a listen session
type ListenConfig struct {
	// Ticket of the share session to join (required).
	Ticket ticket.Ticket

	// Dialer opens connections for the ticket (required).
	Dialer transport.Dialer

	// Sink plays the audio (required). The session opens and closes it.
	Sink output.Sink

	// Playback buffer tuning; zero values use the playback defaults.
	Prefill       int
	MaxDepth      int
	RebufferAfter int
	Underrun      playback.UnderrunPolicy

	// MaxAttempts bounds consecutive failed connection attempts, for the
	// first connection and after every drop.
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	HandshakeTimeout time.Duration

	// StallTimeout drops a connection that delivers no packet for this
	// long. A connection that stalls before its first packet counts as a
	// failed attempt.
	StallTimeout time.Duration

	OnStateChange func(ListenState)
	OnError       func(error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// ListenStats is a snapshot of a listen session.
type ListenStats struct {
	State          ListenState
	Remote         string
	Buffer         playback.Stats
	Packets        uint64
	DecodeErrors   uint64
	ProtocolErrors uint64
	Reconnects     uint64
}

// ListenSession plays one share session
type ListenSession struct {
	cfg     ListenConfig
	logger  *slog.Logger
	metrics *observe.Metrics
	buf     *playback.Buffer

	// lifecycle serializes Start against Stop.
	lifecycle sync.Mutex
	doneOnce  sync.Once

	mu        sync.Mutex
	state     ListenState
	connected bool
	remote    string
	stats     ListenStats
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewListenSession validates cfg and returns an idle session
func NewListenSession(cfg ListenConfig) (*ListenSession, error) {
	if err := cfg.Ticket.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dialer == nil {
		return nil, errors.New("listen session requires a dialer")
	}
	if cfg.Sink == nil {
		return nil, errors.New("listen session requires a sink")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.Backoff)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ListenSession{
		cfg: cfg,
		logger: cfg.Logger.With("component", "listen",
			"session", cfg.Ticket.SessionID, "sharer", cfg.Ticket.Name),
		metrics: cfg.Metrics,
		buf: playback.NewBuffer(playback.Config{
			Format:        cfg.Ticket.Format,
			Prefill:       cfg.Prefill,
			MaxDepth:      cfg.MaxDepth,
			RebufferAfter: cfg.RebufferAfter,
			Underrun:      cfg.Underrun,
			Metrics:       cfg.Metrics,
		}),
		done: make(chan struct{}),
	}, nil
}

// Start opens the sink and begins connecting. The session runs until
// Stop, ctx cancellation or a fatal error.
func (s *ListenSession) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case ListenIdle:
	case ListenStopped:
		return ErrSessionStopped
	default:
		return ErrAlreadyStarted
	}

	format := s.cfg.Ticket.Format
	if err := s.cfg.Sink.Open(format); err != nil {
		return fmt.Errorf("%w: open: %w", ErrSinkFailed, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(ListenConnecting)
	s.logger.Info("listen session started", "transport", s.cfg.Ticket.Transport, "format", format.String())

	player := playback.NewPlayer(s.buf, s.cfg.Sink, playback.PlayerConfig{
		OnState: s.playoutChanged,
		Logger:  s.cfg.Logger,
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error {
		if err := player.Run(gctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSinkFailed, err)
		}
		return nil
	})
	go s.finish(g)
	return nil
}

func (s *ListenSession) finish(g *errgroup.Group) {
	err := g.Wait()
	s.cfg.Sink.Close()

	s.mu.Lock()
	s.err = err
	s.connected = false
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("listen session failed", "error", err)
	} else {
		st := s.buf.Stats()
		s.logger.Info("listen session stopped", "played", st.Played, "concealed", st.Concealed)
	}
	s.setState(ListenStopped)
	s.closeDone()
	if err != nil && s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// receiveLoop keeps one connection alive and feeds the buffer.
func (s *ListenSession) receiveLoop(ctx context.Context) error {
	// failed counts consecutive attempts that never delivered a packet.
	var (
		failed int
		cause  error
	)
	for first := true; ; first = false {
		conn, attempt, err := s.connect(ctx, failed, cause)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !first {
			s.mu.Lock()
			s.stats.Reconnects++
			s.mu.Unlock()
		}

		got, err := s.receive(ctx, conn)
		conn.Close()
		s.mu.Lock()
		s.connected = false
		s.remote = ""
		s.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		if got > 0 {
			failed, cause = 0, nil
		} else {
			failed, cause = attempt, err
		}
		s.logger.Warn("connection lost, reconnecting", "error", err, "packets", got)
		s.setState(ListenConnecting)
	}
}

// connect dials and handshakes, backing off between attempts. failed
// attempts of the current budget are already spent, the last with cause.
// It returns the attempt number that succeeded.
func (s *ListenSession) connect(ctx context.Context, failed int, cause error) (transport.Conn, int, error) {
	backoff := s.cfg.Backoff
	for range failed - 1 {
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
	lastErr := cause
	attempt := failed + 1
	for ; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, 0, ctx.Err()
			case <-timer.C:
			}
			backoff = min(backoff*2, s.cfg.MaxBackoff)
		}

		conn, err := s.dialOnce(ctx)
		if err == nil {
			s.metrics.RecordConnectAttempt(ctx, "ok")
			return conn, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		lastErr = err
		s.metrics.RecordConnectAttempt(ctx, "error")
		s.logger.Warn("connection attempt failed", "attempt", attempt, "max", s.cfg.MaxAttempts, "error", err)

		// Retrying cannot fix a wrong ticket.
		if errors.Is(err, transport.ErrBadToken) || errors.Is(err, transport.ErrVersionMismatch) {
			break
		}
	}
	return nil, 0, fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, min(attempt, s.cfg.MaxAttempts), lastErr)
}

func (s *ListenSession) dialOnce(ctx context.Context) (transport.Conn, error) {
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.Ticket)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := transport.Hello(hctx, conn, s.cfg.Ticket.Token); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// receive reads packets until the connection ends or stalls and reports
// how many arrived. Decode failures lose one frame; a malformed record
// ends the connection.
func (s *ListenSession) receive(ctx context.Context, conn transport.Conn) (uint64, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(s.cfg.StallTimeout, func() {
		stalled.Store(true)
		conn.Close()
	})
	defer watchdog.Stop()

	dec, err := decode.New(s.cfg.Ticket.Format)
	if err != nil {
		return 0, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s.mu.Lock()
	s.connected = true
	s.remote = remote
	s.mu.Unlock()
	s.setState(s.playbackState(s.buf.State()))
	s.logger.Info("connected", "remote", remote)

	var got uint64
	r := packet.NewReader(conn, packet.MaxLength)
	for {
		p, err := r.Next()
		if err != nil {
			switch {
			case stalled.Load():
				return got, fmt.Errorf("%w: no packet for %v", errStalled, s.cfg.StallTimeout)
			case errors.Is(err, packet.ErrMalformed):
				s.metrics.ProtocolErrors.Add(ctx, 1)
				s.mu.Lock()
				s.stats.ProtocolErrors++
				s.mu.Unlock()
				return got, fmt.Errorf("protocol violation: %w", err)
			case errors.Is(err, io.EOF):
				return got, errors.New("sharer closed the connection")
			default:
				return got, err
			}
		}
		watchdog.Reset(s.cfg.StallTimeout)
		got++

		s.mu.Lock()
		s.stats.Packets++
		s.mu.Unlock()

		frame, err := dec.Decode(p.Payload)
		if err != nil {
			s.metrics.DecodeErrors.Add(ctx, 1)
			s.mu.Lock()
			s.stats.DecodeErrors++
			s.mu.Unlock()
			s.logger.Debug("dropping undecodable packet", "seq", p.Seq, "error", err)
			continue
		}
		s.buf.Push(p.Seq, frame)
	}
}

func (s *ListenSession) playoutChanged(ps playback.State) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		s.setState(s.playbackState(ps))
	}
}

func (s *ListenSession) playbackState(ps playback.State) ListenState {
	if ps == playback.Playing {
		return ListenPlaying
	}
	return ListenBuffering
}

func (s *ListenSession) setState(state ListenState) {
	s.mu.Lock()
	if s.state == state || s.state == ListenStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Info("listen state changed", "from", prev, "to", state)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

// Stop ends the session and waits for the connection and sink to close.
func (s *ListenSession) Stop() error {
	s.lifecycle.Lock()
	s.mu.Lock()
	if s.state == ListenIdle {
		s.state = ListenStopped
		s.mu.Unlock()
		s.lifecycle.Unlock()
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

func (s *ListenSession) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Wait blocks until the session stopped and returns its fatal cause.
func (s *ListenSession) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has stopped.
func (s *ListenSession) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *ListenSession) State() ListenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticket returns the ticket the session joins.
func (s *ListenSession) Ticket() ticket.Ticket {
	return s.cfg.Ticket
}

// Sink returns the session's audio sink.
func (s *ListenSession) Sink() output.Sink {
	return s.cfg.Sink
}

// Stats returns a snapshot of session counters.
func (s *ListenSession) Stats() ListenStats {
	s.mu.Lock()
	st := s.stats
	st.State = s.state
	st.Remote = s.remote
	s.mu.Unlock()
	st.Buffer = s.buf.Stats()
	return st
}
