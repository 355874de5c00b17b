// ABOUTME: In-memory transport built on net.Pipe
// ABOUTME: Lets sessions run end to end in one process without sockets
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/Sendspin/hearme/pkg/ticket"
)

// Pipe is an in-process network. Listeners register a name; dialers
// connect by name.
type Pipe struct {
	mu        sync.Mutex
	listeners map[string]*PipeListener
}

// NewPipe creates an empty in-process network
func NewPipe() *Pipe {
	return &Pipe{listeners: make(map[string]*PipeListener)}
}

// Listen registers name on the network.
func (p *Pipe) Listen(name string) (*PipeListener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.listeners[name]; exists {
		return nil, fmt.Errorf("pipe address %q already in use", name)
	}
	l := &PipeListener{
		pipe:   p,
		name:   name,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
		active: make(map[net.Conn]struct{}),
	}
	p.listeners[name] = l
	return l, nil
}

// Dial connects to the first registered ticket address.
func (p *Pipe) Dial(ctx context.Context, t ticket.Ticket) (Conn, error) {
	return DialAny(ctx, t.Addrs, 0, p.dialAddr)
}

func (p *Pipe) dialAddr(ctx context.Context, addr string) (Conn, error) {
	p.mu.Lock()
	l, ok := p.listeners[addr]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pipe address %q: connection refused", addr)
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("pipe address %q: connection refused", addr)
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// PipeListener is the accept side of a Pipe address.
type PipeListener struct {
	pipe   *Pipe
	name   string
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	active map[net.Conn]struct{}
}

// Accept waits for the next dialer.
func (l *PipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		l.mu.Lock()
		l.active[c] = struct{}{}
		l.mu.Unlock()
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addrs returns the registered name.
func (l *PipeListener) Addrs() []string {
	return []string{l.name}
}

// DropConnections closes every accepted connection while the listener
// keeps accepting, as a network outage would.
func (l *PipeListener) DropConnections() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.active {
		c.Close()
		delete(l.active, c)
	}
}

// Close unregisters the name and refuses further dials.
func (l *PipeListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.pipe.mu.Lock()
		delete(l.pipe.listeners, l.name)
		l.pipe.mu.Unlock()
	})
	return nil
}
