// ABOUTME: WebSocket transport using gorilla/websocket
// ABOUTME: Carries the audio byte stream in binary messages over an HTTP upgrade
package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
	"github.com/gorilla/websocket"
)

// Path is the HTTP path the listener upgrades on.
const Path = "/hearme"

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Listener serves WebSocket upgrades and queues the resulting connections
type Listener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	addrs    []string
	conns    chan *Conn
	closed   chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// Listen binds addr (e.g. ":0") and starts serving upgrades.
func Listen(addr string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen on %s: %w", addr, err)
	}

	l := &Listener{
		ln: ln,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{transport.Protocol},
			// Admission is decided by the token handshake, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		addrs:  transport.AdvertiseAddrs(ln.Addr()),
		conns:  make(chan *Conn),
		closed: make(chan struct{}),
		logger: logger.With("component", "ws"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error("ws server stopped", "error", err)
		}
	}()

	l.logger.Info("ws listener started", "addr", ln.Addr().String())
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(wsConn)
	select {
	case l.conns <- c:
	case <-l.closed:
		c.Close()
	}
}

// Accept returns the next upgraded connection.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addrs returns host:port pairs for tickets.
func (l *Listener) Addrs() []string {
	return l.addrs
}

// Close stops the HTTP server. Upgraded connections are not affected.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}

// Dialer connects to WebSocket share sessions
type Dialer struct {
	// Timeout bounds each address attempt. Zero uses transport.DefaultDialTimeout.
	Timeout time.Duration
}

// Dial upgrades against the first reachable ticket address.
func (d Dialer) Dial(ctx context.Context, t ticket.Ticket) (transport.Conn, error) {
	return transport.DialAny(ctx, t.Addrs, d.Timeout, func(ctx context.Context, addr string) (transport.Conn, error) {
		dialer := websocket.Dialer{
			Subprotocols:     []string{transport.Protocol},
			HandshakeTimeout: transport.DefaultDialTimeout,
		}
		wsConn, _, err := dialer.DialContext(ctx, "ws://"+addr+Path, nil)
		if err != nil {
			return nil, err
		}
		return newConn(wsConn), nil
	})
}

// Conn adapts a message-oriented WebSocket to a byte stream
type Conn struct {
	ws     *websocket.Conn
	reader io.Reader
	wmu    sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func newConn(wsConn *websocket.Conn) *Conn {
	c := &Conn{ws: wsConn, done: make(chan struct{})}
	go c.keepalive()
	return c
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Read reads from the current binary message, moving to the next one at
// its end. A normal close surfaces as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetDeadline sets the read deadline; writes carry their own deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Close sends a close frame and tears down the socket.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
