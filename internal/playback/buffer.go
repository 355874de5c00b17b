// ABOUTME: Sequence-ordered jitter buffer between network receive and playout
// ABOUTME: Conceals missing slots, trims overruns and rebuffers on sustained underrun
package playback

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Sendspin/hearme/internal/observe"
	"github.com/Sendspin/hearme/pkg/audio"
)

// Buffer defaults
const (
	DefaultPrefill       = 4
	DefaultMaxDepth      = 10
	DefaultRebufferAfter = 10
)

// UnderrunPolicy selects the frame synthesized for a missing slot.
type UnderrunPolicy int

const (
	Silence UnderrunPolicy = iota
	RepeatLast
)

func (p UnderrunPolicy) String() string {
	switch p {
	case Silence:
		return "silence"
	case RepeatLast:
		return "repeat_last"
	default:
		return fmt.Sprintf("UnderrunPolicy(%d)", int(p))
	}
}

// ParseUnderrunPolicy accepts "silence" and "repeat_last"/"repeat".
func ParseUnderrunPolicy(s string) (UnderrunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silence":
		return Silence, nil
	case "repeat", "repeat_last", "repeat-last":
		return RepeatLast, nil
	default:
		return Silence, fmt.Errorf("unknown underrun policy %q", s)
	}
}

// State is the playout state of a buffer.
type State int

const (
	Buffering State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "buffering"
}

// PushResult reports what happened to an arriving frame.
type PushResult int

const (
	Accepted PushResult = iota
	// Late frames are older than the next slot to play.
	Late
	Duplicate
	// Overrun means the frame was accepted but the buffer dropped its oldest entry.
	Overrun
)

// TickResult reports what one playout tick produced.
type TickResult int

const (
	Played TickResult = iota
	Concealed
	// Buffered ticks emit silence while the buffer prefills.
	Buffered
)

// Config holds buffer configuration
type Config struct {
	Format audio.Format

	// Prefill is the number of frames required before playout starts.
	Prefill int

	// MaxDepth bounds the number of frames held.
	MaxDepth int

	// RebufferAfter consecutive concealed ticks return the buffer to
	// Buffering. Default: DefaultRebufferAfter; negative never rebuffers.
	RebufferAfter int

	Underrun UnderrunPolicy
	Metrics  *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.Prefill <= 0 {
		c.Prefill = DefaultPrefill
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Prefill > c.MaxDepth {
		c.Prefill = c.MaxDepth
	}
	if c.RebufferAfter == 0 {
		c.RebufferAfter = DefaultRebufferAfter
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Stats are cumulative buffer counters.
type Stats struct {
	Received   uint64
	Played     uint64
	Concealed  uint64
	Lost       uint64
	Late       uint64
	Duplicates uint64
	Overruns   uint64
	Underruns  uint64
	Resyncs    uint64
	Depth      int
	State      State
}

type entry struct {
	seq   uint64
	frame audio.Frame
}

// frameHeap orders entries by sequence number.
type frameHeap []entry

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Buffer is safe for one pushing and one ticking goroutine.
type Buffer struct {
	mu      sync.Mutex
	cfg     Config
	frames  frameHeap
	present map[uint64]struct{}
	state   State
	next    uint64
	started bool
	last    audio.Frame
	silence audio.Frame
	dry     int
	stats   Stats
}

// NewBuffer creates an empty buffer in the Buffering state
func NewBuffer(cfg Config) *Buffer {
	cfg.applyDefaults()
	return &Buffer{
		cfg:     cfg,
		frames:  make(frameHeap, 0, cfg.MaxDepth+1),
		present: make(map[uint64]struct{}, cfg.MaxDepth+1),
		silence: audio.NewSilence(cfg.Format),
	}
}

// Push inserts a decoded frame at its sequence position.
func (b *Buffer) Push(seq uint64, frame audio.Frame) PushResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && seq < b.next {
		b.stats.Late++
		b.cfg.Metrics.LatePackets.Add(context.Background(), 1)
		return Late
	}
	if _, dup := b.present[seq]; dup {
		b.stats.Duplicates++
		return Duplicate
	}

	heap.Push(&b.frames, entry{seq: seq, frame: frame})
	b.present[seq] = struct{}{}
	b.stats.Received++

	result := Accepted
	for b.frames.Len() > b.cfg.MaxDepth {
		old := heap.Pop(&b.frames).(entry)
		delete(b.present, old.seq)
		if b.started && old.seq >= b.next {
			b.stats.Lost += old.seq - b.next + 1
			b.next = old.seq + 1
		}
		b.stats.Overruns++
		b.cfg.Metrics.Overruns.Add(context.Background(), 1)
		result = Overrun
	}
	return result
}

// Tick produces the frame for the current playout slot. It never blocks
// and always returns a frame of the buffer's format.
func (b *Buffer) Tick() (audio.Frame, TickResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := context.Background()
	b.cfg.Metrics.BufferDepth.Record(ctx, int64(b.frames.Len()))

	if b.state == Buffering {
		if b.frames.Len() < b.cfg.Prefill {
			return b.silence, Buffered
		}
		b.state = Playing
		b.dry = 0
		head := b.frames[0].seq
		if b.started && head > b.next {
			b.stats.Lost += head - b.next
		}
		b.next = head
		b.started = true
	}

	if b.frames.Len() > 0 {
		head := b.frames[0].seq
		if head > b.next+uint64(b.cfg.MaxDepth) {
			b.stats.Lost += head - b.next
			b.stats.Resyncs++
			b.next = head
		}
		if head == b.next {
			e := heap.Pop(&b.frames).(entry)
			delete(b.present, e.seq)
			b.next++
			b.dry = 0
			b.last = e.frame
			b.stats.Played++
			b.cfg.Metrics.FramesPlayed.Add(ctx, 1)
			return e.frame, Played
		}
	}

	// Slot b.next is missing: conceal it and move on.
	b.next++
	b.dry++
	b.stats.Concealed++
	b.stats.Lost++
	b.cfg.Metrics.FramesConcealed.Add(ctx, 1)

	frame := b.silence
	if b.cfg.Underrun == RepeatLast && b.last.Samples != nil {
		frame = b.last
	}

	if b.cfg.RebufferAfter > 0 && b.dry >= b.cfg.RebufferAfter {
		b.state = Buffering
		b.stats.Underruns++
		b.cfg.Metrics.Underruns.Add(ctx, 1)
	}
	return frame, Concealed
}

// State returns the current playout state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Depth returns the number of buffered frames.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames.Len()
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Depth = b.frames.Len()
	s.State = b.state
	return s
}
