// ABOUTME: Loopback tests for the QUIC transport
// ABOUTME: Verifies stream exchange and certificate pinning
package quic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Sendspin/hearme/internal/certs"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

var (
	_ transport.Listener = (*Listener)(nil)
	_ transport.Dialer   = Dialer{}
)

func newListener(t *testing.T) *Listener {
	t.Helper()
	cert, err := certs.Generate("test", time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	l, err := Listen("127.0.0.1:0", cert, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoopbackExchange(t *testing.T) {
	l := newListener(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
			close(accepted)
			return
		}
		accepted <- c
	}()

	tk := ticket.Ticket{Addrs: l.Addrs(), Fingerprint: l.Fingerprint()}
	client, err := Dialer{}.Dial(ctx, tk)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client Write: %v", err)
	}

	server, ok := <-accepted
	if !ok {
		t.Fatal("no connection accepted")
	}
	defer server.Close()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(server, buf); err != nil || string(buf) != "hello" {
		t.Fatalf("server read %q, %v", buf, err)
	}

	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	if _, err := io.ReadFull(client, buf); err != nil || string(buf) != "world" {
		t.Fatalf("client read %q, %v", buf, err)
	}
}

func TestDialRejectsWrongFingerprint(t *testing.T) {
	l := newListener(t)
	other, _ := certs.Generate("other", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tk := ticket.Ticket{Addrs: l.Addrs(), Fingerprint: other.FingerprintBase64()}
	if conn, err := (Dialer{Timeout: 2 * time.Second}).Dial(ctx, tk); err == nil {
		conn.Close()
		t.Fatal("expected dial with wrong fingerprint to fail")
	}
}

func TestAcceptAfterClose(t *testing.T) {
	l := newListener(t)
	l.Close()

	if _, err := l.Accept(context.Background()); err != transport.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
