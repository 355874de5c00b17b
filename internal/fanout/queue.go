// ABOUTME: Bounded per-listener packet queue with an explicit overflow policy
// ABOUTME: Push never blocks; a full queue drops the oldest or the newest packet
package fanout

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Sendspin/hearme/pkg/packet"
)

// Policy selects which packet a full queue gives up.
type Policy int

const (
	// DropOldest evicts the head so the newest packet always gets in.
	DropOldest Policy = iota
	// DropNewest discards the incoming packet and keeps what is queued.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "drop_oldest"/"oldest" and "drop_newest"/"newest".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "oldest", "drop_oldest", "drop-oldest":
		return DropOldest, nil
	case "newest", "drop_newest", "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Queue is a bounded channel with one producer and one consumer.
type Queue struct {
	ch      chan packet.Packet
	policy  Policy
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity packets
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan packet.Packet, capacity),
		policy: policy,
	}
}

// Push enqueues p without blocking and reports whether a packet was dropped.
// Only one goroutine may push.
func (q *Queue) Push(p packet.Packet) bool {
	dropped := false
	for {
		select {
		case q.ch <- p:
			return dropped
		default:
		}

		if q.policy == DropNewest {
			q.dropped.Add(1)
			return true
		}

		// The consumer may take the head between our checks; then the
		// retry above succeeds without a drop.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// C is the consumer side of the queue.
func (q *Queue) C() <-chan packet.Packet {
	return q.ch
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of packets lost to overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Discard empties the queue and returns how many packets it held.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
