// ABOUTME: Tests for broadcast fan-out
// ABOUTME: Uses in-memory writers to check ordering, isolation and eviction
package fanout

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Sendspin/hearme/pkg/packet"
)

// recordWriter accepts every write and records packet sequence numbers.
type recordWriter struct {
	mu     sync.Mutex
	seqs   []uint64
	closed bool
	err    error
}

func seqOf(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[packet.LengthSize:])
}

func (w *recordWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.seqs = append(w.seqs, seqOf(b))
	return len(b), nil
}

func (w *recordWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *recordWriter) Seqs() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.seqs...)
}

func (w *recordWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// blockingWriter stalls every write until released or closed.
type blockingWriter struct {
	entered   chan uint64
	release   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	seqs      []uint64
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{
		entered: make(chan uint64, 1),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (w *blockingWriter) Write(b []byte) (int, error) {
	seq := seqOf(b)
	select {
	case w.entered <- seq:
	default:
	}
	select {
	case <-w.release:
	case <-w.closed:
		return 0, io.ErrClosedPipe
	}
	w.mu.Lock()
	w.seqs = append(w.seqs, seq)
	w.mu.Unlock()
	return len(b), nil
}

func (w *blockingWriter) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

func (w *blockingWriter) Seqs() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.seqs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBroadcastInOrder(t *testing.T) {
	f := New(Config{QueueSize: 64})
	defer f.Close()

	a, b := &recordWriter{}, &recordWriter{}
	if _, err := f.Add("a", a); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := f.Add("b", b); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	want := make([]uint64, 0, 20)
	for seq := uint64(0); seq < 20; seq++ {
		if n := f.Broadcast(context.Background(), packet.Packet{Seq: seq, Payload: []byte{byte(seq)}}); n != 2 {
			t.Fatalf("Broadcast reached %d listeners, want 2", n)
		}
		want = append(want, seq)
	}

	waitFor(t, "both listeners", func() bool {
		return len(a.Seqs()) == 20 && len(b.Seqs()) == 20
	})
	if !equalSeqs(a.Seqs(), want) {
		t.Errorf("listener a got %v", a.Seqs())
	}
	if !equalSeqs(b.Seqs(), want) {
		t.Errorf("listener b got %v", b.Seqs())
	}
}

func TestLateJoinerStartsAtCurrentPacket(t *testing.T) {
	f := New(Config{QueueSize: 8})
	defer f.Close()

	early := &recordWriter{}
	f.Add("early", early)
	f.Broadcast(context.Background(), packet.Packet{Seq: 1})
	f.Broadcast(context.Background(), packet.Packet{Seq: 2})

	late := &recordWriter{}
	f.Add("late", late)
	f.Broadcast(context.Background(), packet.Packet{Seq: 3})

	waitFor(t, "late listener", func() bool { return len(late.Seqs()) == 1 })
	if got := late.Seqs(); got[0] != 3 {
		t.Errorf("late listener first packet = %d, want 3", got[0])
	}
	waitFor(t, "early listener", func() bool { return len(early.Seqs()) == 3 })
}

func TestStalledListenerDoesNotAffectOthers(t *testing.T) {
	f := New(Config{QueueSize: 3, Policy: DropOldest})
	defer f.Close()

	stalled := newBlockingWriter()
	healthy := &recordWriter{}
	stalledL, _ := f.Add("stalled", stalled)
	f.Add("healthy", healthy)

	f.Broadcast(context.Background(), packet.Packet{Seq: 1})
	select {
	case seq := <-stalled.entered:
		if seq != 1 {
			t.Fatalf("stalled writer entered with seq %d", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled writer never entered Write")
	}
	waitFor(t, "healthy seq 1", func() bool { return len(healthy.Seqs()) == 1 })

	for seq := uint64(2); seq <= 10; seq++ {
		done := make(chan struct{})
		go func() {
			f.Broadcast(context.Background(), packet.Packet{Seq: seq})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Broadcast of seq %d blocked", seq)
		}
		waitFor(t, "healthy listener", func() bool { return len(healthy.Seqs()) == int(seq) })
	}

	if st := stalledL.Stats(); st.Dropped != 6 || st.Queued != 3 {
		t.Errorf("stalled stats = %+v, want 6 dropped and 3 queued", st)
	}

	close(stalled.release)
	waitFor(t, "stalled listener to catch up", func() bool { return len(stalled.Seqs()) == 4 })
	if got := stalled.Seqs(); !equalSeqs(got, []uint64{1, 8, 9, 10}) {
		t.Errorf("stalled listener got %v, want [1 8 9 10]", got)
	}
}

func TestEvictAfterSustainedOverflow(t *testing.T) {
	removed := make(chan error, 1)
	f := New(Config{
		QueueSize:  1,
		EvictAfter: 2,
		OnRemove:   func(id string, cause error) { removed <- cause },
	})
	defer f.Close()

	w := newBlockingWriter()
	l, _ := f.Add("slow", w)

	f.Broadcast(context.Background(), packet.Packet{Seq: 1})
	<-w.entered
	for seq := uint64(2); seq <= 4; seq++ {
		f.Broadcast(context.Background(), packet.Packet{Seq: seq})
	}

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow listener was not evicted")
	}
	if !errors.Is(l.Err(), ErrSlowListener) {
		t.Errorf("Err() = %v, want ErrSlowListener", l.Err())
	}
	if err := <-removed; !errors.Is(err, ErrSlowListener) {
		t.Errorf("OnRemove cause = %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("Len() = %d after eviction", f.Len())
	}
}

func TestWriteErrorRemovesListener(t *testing.T) {
	f := New(Config{})
	defer f.Close()

	w := &recordWriter{err: io.ErrClosedPipe}
	l, _ := f.Add("broken", w)
	f.Broadcast(context.Background(), packet.Packet{Seq: 1})

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener not removed after write error")
	}
	if !errors.Is(l.Err(), io.ErrClosedPipe) {
		t.Errorf("Err() = %v, want wrapped io.ErrClosedPipe", l.Err())
	}
	waitFor(t, "connection close", w.Closed)
}

func TestRemoveAndDuplicate(t *testing.T) {
	f := New(Config{})
	defer f.Close()

	w := &recordWriter{}
	l, err := f.Add("x", w)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.Add("x", &recordWriter{}); !errors.Is(err, ErrDuplicateListener) {
		t.Errorf("duplicate Add error = %v", err)
	}

	f.Remove("x", nil)
	f.Remove("x", nil)
	if !errors.Is(l.Err(), ErrRemoved) {
		t.Errorf("Err() = %v, want ErrRemoved", l.Err())
	}
	if n := f.Broadcast(context.Background(), packet.Packet{Seq: 1}); n != 0 {
		t.Errorf("Broadcast reached %d listeners after removal", n)
	}
	waitFor(t, "connection close", w.Closed)
}

func TestCloseDetachesEveryone(t *testing.T) {
	f := New(Config{})
	writers := []*recordWriter{{}, {}, {}}
	for i, w := range writers {
		f.Add(string(rune('a'+i)), w)
	}
	if len(f.Snapshot()) != 3 {
		t.Fatalf("Snapshot has %d entries", len(f.Snapshot()))
	}

	f.Close()
	for i, w := range writers {
		if !w.Closed() {
			t.Errorf("writer %d not closed", i)
		}
	}
	if _, err := f.Add("late", &recordWriter{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close error = %v", err)
	}
}
