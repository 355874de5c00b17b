// ABOUTME: Session-level error values
// ABOUTME: Fatal causes reported through Wait and the OnError callback
package hearme

import "errors"

// Session-fatal causes. Wait returns an error wrapping one of these.
var (
	ErrSourceFailed     = errors.New("frame source failed")
	ErrSinkFailed       = errors.New("audio sink failed")
	ErrConnectionFailed = errors.New("connection failed")
)

// Lifecycle and controller errors
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionStopped   = errors.New("session stopped")
	ErrAlreadySharing   = errors.New("already sharing")
	ErrAlreadyListening = errors.New("already listening")
	ErrNotSharing       = errors.New("not sharing")
	ErrNotListening     = errors.New("not listening")
)

// errEndOfStream ends a share session cleanly when the source runs out.
var errEndOfStream = errors.New("end of stream")

// errStalled drops a listener connection that stopped delivering packets.
var errStalled = errors.New("connection stalled")
