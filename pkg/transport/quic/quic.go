// ABOUTME: QUIC transport using quic-go with pinned self-signed certificates
// ABOUTME: The listener opens one bidirectional stream per connection
package quic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Sendspin/hearme/internal/certs"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
	quicgo "github.com/quic-go/quic-go"
)

const (
	maxIdleTimeout   = 30 * time.Second
	keepAlivePeriod  = 5 * time.Second
	streamOpenWindow = 5 * time.Second
)

func quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}
}

// Listener accepts QUIC connections and hands out their first stream
type Listener struct {
	ln     *quicgo.Listener
	cert   *certs.CertInfo
	addrs  []string
	conns  chan transport.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *slog.Logger
}

// Listen binds addr (e.g. ":0") and presents cert to dialers.
func Listen(addr string, cert *certs.CertInfo, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := quicgo.ListenAddr(addr, cert.ServerConfig(transport.Protocol), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ln:     ln,
		cert:   cert,
		addrs:  transport.AdvertiseAddrs(ln.Addr()),
		conns:  make(chan transport.Conn),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "quic"),
	}
	go l.acceptLoop()

	l.logger.Info("quic listener started", "addr", ln.Addr().String())
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil && !errors.Is(err, quicgo.ErrServerClosed) {
				l.logger.Warn("quic accept failed", "error", err)
			}
			return
		}
		go l.awaitStream(conn)
	}
}

// awaitStream waits for the dialer to open its stream so that a slow peer
// cannot hold up other accepts.
func (l *Listener) awaitStream(conn quicgo.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, streamOpenWindow)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Debug("peer opened no stream", "remote", conn.RemoteAddr().String(), "error", err)
		conn.CloseWithError(0, "no stream")
		return
	}

	sc := &streamConn{Stream: stream, conn: conn}
	select {
	case l.conns <- sc:
	case <-l.ctx.Done():
		sc.Close()
	}
}

// Accept returns the next connection with an open stream.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addrs returns the dialable addresses of the listener.
func (l *Listener) Addrs() []string {
	return l.addrs
}

// Fingerprint returns the base64 certificate fingerprint for tickets.
func (l *Listener) Fingerprint() string {
	return l.cert.FingerprintBase64()
}

// LocalAddr returns the bound UDP address.
func (l *Listener) LocalAddr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting. Established connections are owned by their users.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
	})
	return err
}

// Dialer connects to QUIC share sessions
type Dialer struct {
	// Timeout bounds each address attempt. Zero uses transport.DefaultDialTimeout.
	Timeout time.Duration
}

// Dial connects to the first reachable ticket address whose certificate
// matches the ticket fingerprint, and opens the audio stream.
func (d Dialer) Dial(ctx context.Context, t ticket.Ticket) (transport.Conn, error) {
	tlsConf, err := certs.PinnedClientConfig(t.Fingerprint, transport.Protocol)
	if err != nil {
		return nil, err
	}

	return transport.DialAny(ctx, t.Addrs, d.Timeout, func(ctx context.Context, addr string) (transport.Conn, error) {
		conn, err := quicgo.DialAddr(ctx, addr, tlsConf, quicConfig())
		if err != nil {
			return nil, err
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(0, "open stream failed")
			return nil, fmt.Errorf("open stream: %w", err)
		}
		return &streamConn{Stream: stream, conn: conn}, nil
	})
}

// streamConn is one bidirectional stream that owns its connection.
type streamConn struct {
	quicgo.Stream
	conn quicgo.Connection
	once sync.Once
}

func (s *streamConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *streamConn) Close() error {
	s.once.Do(func() {
		s.Stream.CancelRead(0)
		s.Stream.Close()
		s.conn.CloseWithError(0, "closed")
	})
	return nil
}
