// ABOUTME: Admission handshake run on every new connection
// ABOUTME: Listener proves possession of the session token before audio flows
package transport

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultHandshakeTimeout bounds the admission exchange.
const DefaultHandshakeTimeout = 5 * time.Second

const (
	helloMagic   = "HRME"
	helloVersion = 1
	helloSize    = len(helloMagic) + 1 + 16
)

const (
	statusOK byte = iota
	statusBadToken
	statusFull
	statusBadVersion
)

// Handshake errors. All are protocol violations that close one connection.
var (
	ErrBadMagic        = errors.New("not a hearme stream")
	ErrBadToken        = errors.New("session token rejected")
	ErrSessionFull     = errors.New("session is full")
	ErrVersionMismatch = errors.New("stream version mismatch")
)

// Hello runs the listener side: send magic, version and token, then wait
// for the sharer's verdict.
func Hello(ctx context.Context, conn Conn, token []byte) error {
	if len(token) != 16 {
		return fmt.Errorf("token must be 16 bytes, got %d", len(token))
	}
	return withDeadline(ctx, conn, func() error {
		msg := make([]byte, 0, helloSize)
		msg = append(msg, helloMagic...)
		msg = append(msg, helloVersion)
		msg = append(msg, token...)
		if _, err := conn.Write(msg); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}

		var status [1]byte
		if _, err := io.ReadFull(conn, status[:]); err != nil {
			return fmt.Errorf("read hello status: %w", err)
		}
		return statusError(status[0])
	})
}

// Admit runs the sharer side: read and check the hello, then answer it.
// A non-nil reject (ErrSessionFull) refuses an otherwise valid listener.
func Admit(ctx context.Context, conn Conn, token []byte, reject error) error {
	return withDeadline(ctx, conn, func() error {
		var msg [helloSize]byte
		if _, err := io.ReadFull(conn, msg[:]); err != nil {
			return fmt.Errorf("read hello: %w", err)
		}

		if !bytes.Equal(msg[:len(helloMagic)], []byte(helloMagic)) {
			return ErrBadMagic
		}

		verdict := statusOK
		var result error
		switch {
		case msg[len(helloMagic)] != helloVersion:
			verdict, result = statusBadVersion, ErrVersionMismatch
		case subtle.ConstantTimeCompare(msg[len(helloMagic)+1:], token) != 1:
			verdict, result = statusBadToken, ErrBadToken
		case errors.Is(reject, ErrSessionFull):
			verdict, result = statusFull, ErrSessionFull
		}

		if _, err := conn.Write([]byte{verdict}); err != nil {
			return fmt.Errorf("send hello status: %w", err)
		}
		return result
	})
}

func statusError(status byte) error {
	switch status {
	case statusOK:
		return nil
	case statusBadToken:
		return ErrBadToken
	case statusFull:
		return ErrSessionFull
	case statusBadVersion:
		return ErrVersionMismatch
	default:
		return fmt.Errorf("unknown hello status %d", status)
	}
}

// withDeadline runs fn with the ctx deadline applied to conn, and closes
// conn if ctx is cancelled first.
func withDeadline(ctx context.Context, conn Conn, fn func() error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	dl, hasDeadline := conn.(deadliner)
	if hasDeadline {
		deadline, _ := ctx.Deadline()
		dl.SetDeadline(deadline)
		defer dl.SetDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		if hasDeadline {
			dl.SetDeadline(time.Unix(1, 0))
			return
		}
		conn.Close()
	})
	defer stop()

	err := fn()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("handshake: %w", ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("handshake: %w", context.DeadlineExceeded)
	}
	return err
}
