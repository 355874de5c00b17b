// ABOUTME: Operator command layer over share and listen sessions
// ABOUTME: Allows one share and one listen at a time and reports how each ended
package hearme

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Sendspin/hearme/pkg/ticket"
)

// EventKind identifies a controller event.
type EventKind int

const (
	ShareEnded EventKind = iota
	ListenEnded
)

func (k EventKind) String() string {
	if k == ShareEnded {
		return "share-ended"
	}
	return "listen-ended"
}

// Event reports that a session reached its terminal state. Err is nil for
// an operator stop or a clean end of stream.
type Event struct {
	Kind EventKind
	Err  error
}

// Controller owns at most one share and one listen session
type Controller struct {
	mu     sync.Mutex
	share  *ShareSession
	listen *ListenSession
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewController creates an idle controller
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		events: make(chan Event, 8),
		logger: logger.With("component", "controller"),
	}
}

// Events delivers one event per ended session. Events are dropped when
// nobody reads.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// StartSharing starts a share session and returns its encoded ticket.
func (c *Controller) StartSharing(ctx context.Context, cfg ShareConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.share != nil {
		return "", ErrAlreadySharing
	}

	s, err := NewShareSession(cfg)
	if err != nil {
		return "", err
	}
	t, err := s.Start(ctx)
	if err != nil {
		s.Stop()
		return "", err
	}
	encoded, err := t.Encode()
	if err != nil {
		s.Stop()
		return "", err
	}

	c.share = s
	c.watch(ShareEnded, s.Wait, func() bool {
		if c.share == s {
			c.share = nil
			return true
		}
		return false
	})
	return encoded, nil
}

// StopSharing stops the active share session.
func (c *Controller) StopSharing() error {
	c.mu.Lock()
	s := c.share
	c.mu.Unlock()
	if s == nil {
		return ErrNotSharing
	}
	return s.Stop()
}

// StartListening joins the session described by an encoded ticket. The
// ticket in cfg is replaced by the parsed one.
func (c *Controller) StartListening(ctx context.Context, encoded string, cfg ListenConfig) error {
	t, err := ticket.Parse(encoded)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listen != nil {
		return ErrAlreadyListening
	}

	cfg.Ticket = t
	if cfg.Dialer == nil {
		if cfg.Dialer, err = DialerFor(t); err != nil {
			return err
		}
	}
	l, err := NewListenSession(cfg)
	if err != nil {
		return err
	}
	if err := l.Start(ctx); err != nil {
		return err
	}

	c.listen = l
	c.watch(ListenEnded, l.Wait, func() bool {
		if c.listen == l {
			c.listen = nil
			return true
		}
		return false
	})
	return nil
}

// StopListening stops the active listen session.
func (c *Controller) StopListening() error {
	c.mu.Lock()
	l := c.listen
	c.mu.Unlock()
	if l == nil {
		return ErrNotListening
	}
	return l.Stop()
}

// Share returns the active share session or nil.
func (c *Controller) Share() *ShareSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.share
}

// Listen returns the active listen session or nil.
func (c *Controller) Listen() *ListenSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listen
}

// Close stops both sessions and waits for their events to be posted.
func (c *Controller) Close() {
	c.StopSharing()
	c.StopListening()
	c.wg.Wait()
}

// watch clears the slot once the session ends and posts its event.
func (c *Controller) watch(kind EventKind, wait func() error, release func() bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := wait()

		c.mu.Lock()
		cleared := release()
		c.mu.Unlock()
		if !cleared {
			return
		}

		c.logger.Info("session ended", "kind", kind, "error", err)
		select {
		case c.events <- Event{Kind: kind, Err: err}:
		default:
			c.logger.Warn("event dropped", "kind", kind)
		}
	}()
}
