// ABOUTME: Broadcast fan-out from one encoder to many listener connections
// ABOUTME: Each listener owns a bounded queue drained by its own writer goroutine
package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/hearme/internal/observe"
	"github.com/Sendspin/hearme/pkg/packet"
)

// DefaultQueueSize holds 300ms of 20ms packets.
const DefaultQueueSize = 15

var (
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("fan-out closed")
	// ErrDuplicateListener is returned when an id is already attached.
	ErrDuplicateListener = errors.New("listener id already attached")
	// ErrSlowListener is the removal cause for a listener that kept overflowing.
	ErrSlowListener = errors.New("listener evicted after sustained overflow")
	// ErrRemoved is the removal cause when the owner detaches a listener.
	ErrRemoved = errors.New("listener removed")
)

// Config holds fan-out configuration
type Config struct {
	// QueueSize bounds each listener queue. Default: DefaultQueueSize.
	QueueSize int

	// Policy applied when a listener queue is full. Default: DropOldest.
	Policy Policy

	// EvictAfter removes a listener after this many consecutive drops with
	// no successful write in between. Zero never evicts.
	EvictAfter int

	// OnRemove is called once per listener after it left, with the cause.
	OnRemove func(id string, cause error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Fanout owns every listener of one share session
type Fanout struct {
	cfg       Config
	mu        sync.RWMutex
	listeners map[string]*Listener
	closed    bool
	wg        sync.WaitGroup
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// New creates an empty fan-out
func New(cfg Config) *Fanout {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fanout{
		cfg:       cfg,
		listeners: make(map[string]*Listener),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "fanout"),
	}
}

// Listener is one attached connection and its queue
type Listener struct {
	id        string
	w         io.WriteCloser
	queue     *Queue
	attached  time.Time
	done      chan struct{}
	err       error
	sent      atomic.Uint64
	overflows atomic.Int64
}

// ID returns the stable listener identifier.
func (l *Listener) ID() string { return l.id }

// Done is closed when the listener has been removed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Err returns the removal cause once Done is closed.
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// ListenerStats is a point-in-time view of one listener.
type ListenerStats struct {
	ID        string
	Queued    int
	Capacity  int
	Sent      uint64
	Dropped   uint64
	Connected time.Duration
}

// Stats returns the listener's counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		ID:        l.id,
		Queued:    l.queue.Len(),
		Capacity:  l.queue.Cap(),
		Sent:      l.sent.Load(),
		Dropped:   l.queue.Dropped(),
		Connected: time.Since(l.attached),
	}
}

// Add attaches w under id and starts its drain goroutine. The listener
// receives only packets broadcast after Add returns.
func (f *Fanout) Add(id string, w io.WriteCloser) (*Listener, error) {
	l := &Listener{
		id:       id,
		w:        w,
		queue:    NewQueue(f.cfg.QueueSize, f.cfg.Policy),
		attached: time.Now(),
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := f.listeners[id]; exists {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateListener, id)
	}
	f.listeners[id] = l
	f.wg.Add(1)
	f.mu.Unlock()

	f.metrics.ListenersActive.Add(context.Background(), 1)
	f.logger.Info("listener attached", "id", id, "queue", f.cfg.QueueSize, "policy", f.cfg.Policy.String())

	go f.drain(l)
	return l, nil
}

// drain moves packets from the listener queue to its connection.
func (f *Fanout) drain(l *Listener) {
	defer f.wg.Done()

	w := packet.NewWriter(l.w)
	for {
		select {
		case <-l.done:
			return
		case p := <-l.queue.C():
			if err := w.Write(p); err != nil {
				f.Remove(l.id, fmt.Errorf("write to listener: %w", err))
				return
			}
			l.sent.Add(1)
			l.overflows.Store(0)
		}
	}
}

// Broadcast enqueues p on every listener without blocking and returns the
// number of listeners it reached.
func (f *Fanout) Broadcast(ctx context.Context, p packet.Packet) int {
	var evict []string

	f.mu.RLock()
	n := len(f.listeners)
	for id, l := range f.listeners {
		if !l.queue.Push(p) {
			continue
		}
		f.metrics.RecordDrop(ctx, f.cfg.Policy.String())
		if f.cfg.EvictAfter > 0 && l.overflows.Add(1) >= int64(f.cfg.EvictAfter) {
			evict = append(evict, id)
		}
	}
	f.mu.RUnlock()

	f.metrics.PacketsBroadcast.Add(ctx, 1)

	for _, id := range evict {
		f.metrics.ListenersEvicted.Add(ctx, 1)
		f.Remove(id, ErrSlowListener)
	}
	return n
}

// Remove detaches a listener, discards its queue and closes its connection.
// Removing an unknown id is a no-op.
func (f *Fanout) Remove(id string, cause error) {
	f.mu.Lock()
	l, ok := f.listeners[id]
	if ok {
		delete(f.listeners, id)
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	if cause == nil {
		cause = ErrRemoved
	}
	l.err = cause
	close(l.done)
	discarded := l.queue.Discard()

	f.metrics.ListenersActive.Add(context.Background(), -1)
	if errors.Is(cause, ErrRemoved) || errors.Is(cause, ErrClosed) {
		f.logger.Info("listener detached", "id", id, "sent", l.sent.Load(), "discarded", discarded)
	} else {
		f.logger.Warn("listener dropped", "id", id, "cause", cause, "sent", l.sent.Load(), "discarded", discarded)
	}

	// Closing may wait on the network; never do it on the broadcaster.
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		l.w.Close()
		if f.cfg.OnRemove != nil {
			f.cfg.OnRemove(id, cause)
		}
	}()
}

// Len returns the number of attached listeners.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Snapshot returns stats for every listener, oldest first.
func (f *Fanout) Snapshot() []ListenerStats {
	f.mu.RLock()
	out := make([]ListenerStats, 0, len(f.listeners))
	for _, l := range f.listeners {
		out = append(out, l.Stats())
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Connected > out[j].Connected })
	return out
}

// Close removes every listener and waits for their goroutines. Queued
// packets are discarded, not flushed.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	ids := make([]string, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Remove(id, ErrClosed)
	}
	f.wg.Wait()
}
