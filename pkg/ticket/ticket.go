// ABOUTME: Join ticket minted by a share session
// ABOUTME: Versioned, self-describing text token carrying address, auth and format
package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sendspin/hearme/pkg/audio"
)

// Version is the only ticket version this build understands.
const Version = 1

// TokenSize is the length of the session secret.
const TokenSize = 16

// Transport names.
const (
	TransportQUIC      = "quic"
	TransportWebSocket = "ws"
	TransportPipe      = "pipe"
)

var (
	// ErrInvalid marks a ticket that cannot be decoded or is incomplete.
	ErrInvalid = errors.New("invalid ticket")
	// ErrUnsupportedVersion marks a ticket from a newer or older build.
	ErrUnsupportedVersion = errors.New("unsupported ticket version")
)

// Ticket tells a listener where a share lives and how to prove it was
// invited. Immutable once minted.
type Ticket struct {
	Version     int          `json:"v"`
	SessionID   string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Transport   string       `json:"tr"`
	Addrs       []string     `json:"addrs"`
	Fingerprint string       `json:"fp,omitempty"`
	Token       []byte       `json:"tok"`
	Format      audio.Format `json:"fmt"`
}

// NewToken returns a fresh random session secret.
func NewToken() ([]byte, error) {
	token := make([]byte, TokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// Validate checks that the ticket carries everything a dialer needs.
func (t Ticket) Validate() error {
	if t.Version != Version {
		return fmt.Errorf("%w: %d (want %d)", ErrUnsupportedVersion, t.Version, Version)
	}
	var errs []error
	if t.SessionID == "" {
		errs = append(errs, errors.New("missing session id"))
	}
	switch t.Transport {
	case TransportQUIC:
		if t.Fingerprint == "" {
			errs = append(errs, errors.New("quic ticket without certificate fingerprint"))
		}
	case TransportWebSocket, TransportPipe:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", t.Transport))
	}
	if len(t.Addrs) == 0 {
		errs = append(errs, errors.New("no addresses"))
	}
	if len(t.Token) != TokenSize {
		errs = append(errs, fmt.Errorf("token is %d bytes, want %d", len(t.Token), TokenSize))
	}
	if err := t.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Encode serializes the ticket to URL-safe base64 without padding.
func (t Ticket) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// String returns the encoded ticket, or a placeholder if encoding fails.
func (t Ticket) String() string {
	s, err := t.Encode()
	if err != nil {
		return "<invalid ticket>"
	}
	return s
}

// Parse decodes a ticket string. Surrounding whitespace is ignored.
func Parse(s string) (Ticket, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ticket{}, fmt.Errorf("%w: empty", ErrInvalid)
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}
