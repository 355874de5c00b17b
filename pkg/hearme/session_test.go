// ABOUTME: End-to-end tests for share and listen sessions
// ABOUTME: Runs both sides over the in-memory pipe transport with a recording sink
package hearme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/audio/output"
	"github.com/Sendspin/hearme/pkg/capture"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

func pcmFormat() audio.Format {
	f := audio.DefaultFormat()
	f.Codec = "pcm"
	return f
}

func eventually(t *testing.T, what string, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", within, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var shareSeq atomic.Int64

type testShare struct {
	session  *ShareSession
	ticket   ticket.Ticket
	listener *transport.PipeListener
}

func startShare(t *testing.T, pipe *transport.Pipe, cfg ShareConfig) testShare {
	t.Helper()
	l, err := pipe.Listen(fmt.Sprintf("share-%d", shareSeq.Add(1)))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if cfg.Source == nil {
		cfg.Source = capture.NewTone(pcmFormat(), 440, false)
	}
	cfg.Listener = l
	cfg.Transport = ticket.TransportPipe

	s, err := NewShareSession(cfg)
	if err != nil {
		t.Fatalf("NewShareSession: %v", err)
	}
	tk, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return testShare{session: s, ticket: tk, listener: l}
}

func startListen(t *testing.T, pipe *transport.Pipe, tk ticket.Ticket, cfg ListenConfig) (*ListenSession, *output.Recorder) {
	t.Helper()
	rec := output.NewRecorder()
	cfg.Ticket = tk
	cfg.Dialer = pipe
	if cfg.Sink == nil {
		cfg.Sink = rec
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 10 * time.Millisecond
	}
	l, err := NewListenSession(cfg)
	if err != nil {
		t.Fatalf("NewListenSession: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { l.Stop() })
	return l, rec
}

func hasSound(frames []audio.Frame) bool {
	for _, f := range frames {
		for _, s := range f.Samples {
			if s != 0 {
				return true
			}
		}
	}
	return false
}

func TestShareListenEndToEnd(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{Name: "desk"})

	if got := share.session.State(); got != ShareAdvertising {
		t.Fatalf("share state before listeners = %v", got)
	}
	if share.ticket.Name != "desk" || share.ticket.Transport != ticket.TransportPipe {
		t.Errorf("ticket = %+v", share.ticket)
	}

	listen, rec := startListen(t, pipe, share.ticket, ListenConfig{})
	eventually(t, "listener to play", 2*time.Second, func() bool { return listen.State() == ListenPlaying })
	eventually(t, "share to stream", time.Second, func() bool { return share.session.State() == ShareStreaming })
	eventually(t, "20 frames played", 2*time.Second, func() bool { return rec.Len() >= 20 })

	if !hasSound(rec.Frames()) {
		t.Error("recorded frames are all silent")
	}
	for i, f := range rec.Frames() {
		if err := f.Conforms(pcmFormat()); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if n := len(share.session.Listeners()); n != 1 {
		t.Errorf("share has %d listeners, want 1", n)
	}

	if err := listen.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := listen.Wait(); err != nil {
		t.Errorf("Wait after Stop = %v", err)
	}
	if !rec.Closed() {
		t.Error("sink not closed after Stop")
	}
	if listen.State() != ListenStopped {
		t.Errorf("listen state = %v", listen.State())
	}
	eventually(t, "listener detached", time.Second, func() bool { return share.session.Stats().Listeners == 0 })
}

func TestShareWaitsForFirstListener(t *testing.T) {
	pipe := transport.NewPipe()

	idle := startShare(t, pipe, ShareConfig{})
	time.Sleep(100 * time.Millisecond)
	if st := idle.session.Stats(); st.State != ShareAdvertising || st.FramesSent != 0 {
		t.Errorf("share without listeners = %+v, want advertising with no frames", st)
	}

	eager := startShare(t, pipe, ShareConfig{StreamToEmptyAudience: true})
	if eager.session.State() != ShareStreaming {
		t.Errorf("eager share state = %v", eager.session.State())
	}
	eventually(t, "frames without audience", time.Second, func() bool { return eager.session.Stats().FramesSent >= 3 })
}

func TestTwoListenersJoinApart(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{
		Source:    capture.NewTone(audio.DefaultFormat(), 440, false),
		QueueSize: 15,
	})

	first, _ := startListen(t, pipe, share.ticket, ListenConfig{Prefill: 5})
	time.Sleep(500 * time.Millisecond)
	second, _ := startListen(t, pipe, share.ticket, ListenConfig{Prefill: 5})

	for i, l := range []*ListenSession{first, second} {
		eventually(t, fmt.Sprintf("listener %d to play", i), 2*time.Second, func() bool {
			return l.State() == ListenPlaying
		})
	}

	for i := 0; i < 20; i++ {
		for _, info := range share.session.Listeners() {
			if info.Queued > info.Capacity {
				t.Fatalf("listener %s queue %d exceeds bound %d", info.ID, info.Queued, info.Capacity)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(share.session.Listeners()); n != 2 {
		t.Errorf("share has %d listeners, want 2", n)
	}
}

func TestBadTokenFailsWithoutRetry(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{})

	forged := share.ticket
	forged.Token = make([]byte, ticket.TokenSize)
	listen, _ := startListen(t, pipe, forged, ListenConfig{MaxAttempts: 5, Backoff: time.Second})

	select {
	case <-listen.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listen session kept retrying a rejected token")
	}
	err := listen.Wait()
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, transport.ErrBadToken) {
		t.Errorf("Wait = %v, want connection failure caused by bad token", err)
	}
	if share.session.Stats().Listeners != 0 {
		t.Error("forged listener was attached")
	}
}

func TestMaxListeners(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{MaxListeners: 1})

	first, _ := startListen(t, pipe, share.ticket, ListenConfig{})
	eventually(t, "first listener", 2*time.Second, func() bool { return first.State() == ListenPlaying })

	second, _ := startListen(t, pipe, share.ticket, ListenConfig{MaxAttempts: 2})
	err := second.Wait()
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, transport.ErrSessionFull) {
		t.Errorf("second listener Wait = %v, want session full", err)
	}
	if first.State() != ListenPlaying {
		t.Errorf("first listener disturbed: %v", first.State())
	}
}

func TestListenerReconnectsAfterDrop(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{})

	var (
		mu     sync.Mutex
		states []ListenState
	)
	listen, _ := startListen(t, pipe, share.ticket, ListenConfig{
		OnStateChange: func(s ListenState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	eventually(t, "listener to play", 2*time.Second, func() bool { return listen.State() == ListenPlaying })

	share.listener.DropConnections()

	eventually(t, "reconnect", 2*time.Second, func() bool { return listen.Stats().Reconnects >= 1 })
	eventually(t, "playing again", 2*time.Second, func() bool { return listen.State() == ListenPlaying })

	mu.Lock()
	defer mu.Unlock()
	sawConnecting := 0
	for _, s := range states {
		if s == ListenConnecting {
			sawConnecting++
		}
	}
	if sawConnecting < 2 {
		t.Errorf("state history %v, want connecting twice", states)
	}
}

func TestListenerFailsWhenSharerGone(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{})

	reported := make(chan error, 1)
	listen, rec := startListen(t, pipe, share.ticket, ListenConfig{
		MaxAttempts: 3,
		OnError:     func(err error) { reported <- err },
	})
	eventually(t, "listener to play", 2*time.Second, func() bool { return listen.State() == ListenPlaying })

	share.session.Stop()

	select {
	case <-listen.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("listen session did not give up within the retry window")
	}
	if err := listen.Wait(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Wait = %v, want ErrConnectionFailed", err)
	}
	select {
	case got := <-reported:
		if !errors.Is(got, ErrConnectionFailed) {
			t.Errorf("OnError got %v", got)
		}
	case <-time.After(time.Second):
		t.Error("OnError not called")
	}
	if listen.State() != ListenStopped || !rec.Closed() {
		t.Errorf("state = %v, sink closed = %v", listen.State(), rec.Closed())
	}
}

func TestSinkFailureIsFatal(t *testing.T) {
	pipe := transport.NewPipe()
	share := startShare(t, pipe, ShareConfig{})

	rec := output.NewRecorder()
	rec.FailAfter = 3
	listen, _ := startListen(t, pipe, share.ticket, ListenConfig{Sink: rec})

	if err := listen.Wait(); !errors.Is(err, ErrSinkFailed) {
		t.Errorf("Wait = %v, want ErrSinkFailed", err)
	}
}

// scriptedSource yields n silent frames and then err, or blocks until
// ctx ends when stall is set.
type scriptedSource struct {
	format audio.Format
	n      int
	err    error
	stall  bool
	closed atomic.Bool
}

func (s *scriptedSource) Format() audio.Format { return s.format }

func (s *scriptedSource) NextFrame(ctx context.Context) (audio.Frame, error) {
	if s.n == 0 {
		if s.stall {
			<-ctx.Done()
			return audio.Frame{}, ctx.Err()
		}
		return audio.Frame{}, s.err
	}
	s.n--
	return audio.NewSilence(s.format), nil
}

func (s *scriptedSource) Close() error {
	s.closed.Store(true)
	return nil
}

func TestSourceEnd(t *testing.T) {
	boom := errors.New("device unplugged")
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"end of stream is clean", fmt.Errorf("read: %w", io.EOF), nil},
		{"failure is fatal", boom, ErrSourceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{format: pcmFormat(), n: 5, err: tt.err}
			share := startShare(t, transport.NewPipe(), ShareConfig{Source: src, StreamToEmptyAudience: true})

			select {
			case <-share.session.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("share session did not stop")
			}
			err := share.session.Wait()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Wait = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Wait = %v, want %v", err, tt.wantErr)
			}
			if got := share.session.Stats().FramesSent; got != 5 {
				t.Errorf("FramesSent = %d, want 5", got)
			}
			if !src.closed.Load() {
				t.Error("source not closed")
			}
			if share.session.State() != ShareStopped {
				t.Errorf("state = %v", share.session.State())
			}
		})
	}
}

func TestListenerGivesUpOnSilentConnection(t *testing.T) {
	pipe := transport.NewPipe()
	src := &scriptedSource{format: pcmFormat(), n: 10, stall: true}
	share := startShare(t, pipe, ShareConfig{Source: src})

	listen, _ := startListen(t, pipe, share.ticket, ListenConfig{
		Prefill:      1,
		MaxAttempts:  3,
		StallTimeout: 100 * time.Millisecond,
	})

	select {
	case <-listen.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("listener still %v on a connection that stopped delivering", listen.State())
	}
	if err := listen.Wait(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Wait = %v, want %v", err, ErrConnectionFailed)
	}
	if listen.State() != ListenStopped {
		t.Errorf("state = %v", listen.State())
	}
	// Each reconnect is admitted but stays silent, so each one spends
	// an attempt.
	st := listen.Stats()
	if st.Packets != 10 || st.Reconnects != 3 {
		t.Errorf("stats = %+v, want 10 packets and 3 reconnects", st)
	}
	if share.session.State() != ShareStreaming {
		t.Errorf("share state = %v", share.session.State())
	}
}

func TestConcurrentStartStop(t *testing.T) {
	t.Run("share", func(t *testing.T) {
		for i := range 50 {
			pipe := transport.NewPipe()
			l, err := pipe.Listen("race")
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
			s, err := NewShareSession(ShareConfig{
				Source:    capture.NewTone(pcmFormat(), 440, false),
				Listener:  l,
				Transport: ticket.TransportPipe,
			})
			if err != nil {
				t.Fatalf("NewShareSession: %v", err)
			}

			var (
				wg       sync.WaitGroup
				startErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, startErr = s.Start(context.Background())
			}()
			go func() {
				defer wg.Done()
				s.Stop()
			}()
			wg.Wait()
			s.Stop()

			select {
			case <-s.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: session not done", i)
			}
			if startErr != nil && !errors.Is(startErr, ErrSessionStopped) {
				t.Errorf("round %d: Start = %v", i, startErr)
			}
			if s.State() != ShareStopped {
				t.Errorf("round %d: state = %v", i, s.State())
			}
		}
	})

	t.Run("listen", func(t *testing.T) {
		pipe := transport.NewPipe()
		share := startShare(t, pipe, ShareConfig{})

		for i := range 50 {
			rec := output.NewRecorder()
			l, err := NewListenSession(ListenConfig{Ticket: share.ticket, Dialer: pipe, Sink: rec})
			if err != nil {
				t.Fatalf("NewListenSession: %v", err)
			}

			var (
				wg       sync.WaitGroup
				startErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				startErr = l.Start(context.Background())
			}()
			go func() {
				defer wg.Done()
				l.Stop()
			}()
			wg.Wait()
			l.Stop()

			select {
			case <-l.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: session not done", i)
			}
			switch {
			case startErr == nil && !rec.Closed():
				t.Errorf("round %d: sink left open after Stop", i)
			case startErr != nil && !errors.Is(startErr, ErrSessionStopped):
				t.Errorf("round %d: Start = %v", i, startErr)
			}
			if l.State() != ListenStopped {
				t.Errorf("round %d: state = %v", i, l.State())
			}
		}
	})
}

func TestStopBeforeStart(t *testing.T) {
	pipe := transport.NewPipe()
	l, _ := pipe.Listen("idle")
	src := &scriptedSource{format: pcmFormat()}
	s, err := NewShareSession(ShareConfig{Source: src, Listener: l, Transport: ticket.TransportPipe})
	if err != nil {
		t.Fatalf("NewShareSession: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != ShareStopped || !src.closed.Load() {
		t.Errorf("state = %v, source closed = %v", s.State(), src.closed.Load())
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Start after Stop = %v", err)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewShareSession(ShareConfig{}); err == nil {
		t.Error("share session without source accepted")
	}
	if _, err := NewListenSession(ListenConfig{}); err == nil {
		t.Error("listen session without ticket accepted")
	}
}
