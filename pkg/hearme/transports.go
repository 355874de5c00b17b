// ABOUTME: Transport selection for sharers and listeners
// ABOUTME: Builds a listener by name and picks the dialer a ticket needs
package hearme

import (
	"fmt"
	"log/slog"

	"github.com/Sendspin/hearme/internal/certs"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
	"github.com/Sendspin/hearme/pkg/transport/quic"
	"github.com/Sendspin/hearme/pkg/transport/ws"
)

// DefaultListenAddr is the sharer's default bind address.
const DefaultListenAddr = ":7400"

// Endpoint is a bound sharer-side transport and what its ticket must say.
type Endpoint struct {
	Listener    transport.Listener
	Transport   string
	Fingerprint string
}

// Listen binds a network transport: ticket.TransportQUIC (default) or
// ticket.TransportWebSocket.
func Listen(kind, addr string, logger *slog.Logger) (Endpoint, error) {
	if addr == "" {
		addr = DefaultListenAddr
	}
	switch kind {
	case "", ticket.TransportQUIC:
		cert, err := certs.Generate("hearme", certs.DefaultValidity)
		if err != nil {
			return Endpoint{}, fmt.Errorf("generate certificate: %w", err)
		}
		l, err := quic.Listen(addr, cert, logger)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Listener: l, Transport: ticket.TransportQUIC, Fingerprint: l.Fingerprint()}, nil

	case ticket.TransportWebSocket:
		l, err := ws.Listen(addr, logger)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Listener: l, Transport: ticket.TransportWebSocket}, nil

	default:
		return Endpoint{}, fmt.Errorf("unknown transport %q (expected %s or %s)",
			kind, ticket.TransportQUIC, ticket.TransportWebSocket)
	}
}

// DialerFor returns the dialer for a network ticket. Pipe tickets need the
// in-process transport.Pipe they were minted on.
func DialerFor(t ticket.Ticket) (transport.Dialer, error) {
	switch t.Transport {
	case ticket.TransportQUIC:
		return quic.Dialer{}, nil
	case ticket.TransportWebSocket:
		return ws.Dialer{}, nil
	default:
		return nil, fmt.Errorf("no network dialer for transport %q", t.Transport)
	}
}
