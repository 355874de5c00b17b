// ABOUTME: Share and listen session states
// ABOUTME: Idle through Stopped, with string forms for logs and the UI
package hearme

import "fmt"

// ShareState is the lifecycle state of a ShareSession.
type ShareState int

const (
	ShareIdle ShareState = iota
	ShareAdvertising
	ShareStreaming
	ShareStopped
)

func (s ShareState) String() string {
	switch s {
	case ShareIdle:
		return "idle"
	case ShareAdvertising:
		return "advertising"
	case ShareStreaming:
		return "streaming"
	case ShareStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ShareState(%d)", int(s))
	}
}

// ListenState is the lifecycle state of a ListenSession.
type ListenState int

const (
	ListenIdle ListenState = iota
	ListenConnecting
	ListenBuffering
	ListenPlaying
	ListenStopped
)

func (s ListenState) String() string {
	switch s {
	case ListenIdle:
		return "idle"
	case ListenConnecting:
		return "connecting"
	case ListenBuffering:
		return "buffering"
	case ListenPlaying:
		return "playing"
	case ListenStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ListenState(%d)", int(s))
	}
}
