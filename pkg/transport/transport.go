// ABOUTME: Transport abstraction for reliable ordered byte streams
// ABOUTME: Listener, Dialer and Conn interfaces implemented by quic, ws and pipe
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Sendspin/hearme/pkg/ticket"
)

// Protocol is the ALPN / subprotocol identifier of the audio stream.
const Protocol = "hearme/audio/1"

// DefaultDialTimeout bounds one connection attempt to one address.
const DefaultDialTimeout = 3 * time.Second

// ErrClosed is returned by Accept after the listener is closed.
var ErrClosed = errors.New("transport closed")

// Conn is one reliable, ordered byte stream between a sharer and a listener.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts listener connections on the sharer side.
type Listener interface {
	// Accept blocks until a peer opens a stream or ctx ends.
	Accept(ctx context.Context) (Conn, error)
	// Addrs returns the addresses a ticket should carry.
	Addrs() []string
	Close() error
}

// Dialer opens a connection to the sharer described by a ticket.
type Dialer interface {
	Dial(ctx context.Context, t ticket.Ticket) (Conn, error)
}

// DialFunc dials one address.
type DialFunc func(ctx context.Context, addr string) (Conn, error)

// DialAny tries each address in order, giving each at most timeout, and
// returns the first connection that succeeds.
func DialAny(ctx context.Context, addrs []string, timeout time.Duration, dial DialFunc) (Conn, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no addresses to dial")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	var errs []error
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dial(dctx, addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}

// deadliner is implemented by connections that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}
