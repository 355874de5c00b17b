// ABOUTME: Tests for mDNS ticket publishing
// ABOUTME: Checks TXT chunking and entry parsing without touching the network
package discovery

import (
	"strings"
	"testing"

	"github.com/hashicorp/mdns"

	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/ticket"
)

func testTicket(t *testing.T) (ticket.Ticket, string) {
	t.Helper()
	tok, err := ticket.NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	tk := ticket.Ticket{
		Version:     ticket.Version,
		SessionID:   "3f0d5c1e-8a0b-4c55-9b7e-1d2f3a4b5c6d",
		Name:        "Living Room",
		Transport:   ticket.TransportQUIC,
		Addrs:       []string{"192.168.1.20:7400", "10.0.0.5:7400", "127.0.0.1:7400"},
		Fingerprint: strings.Repeat("A", 44),
		Token:       tok,
		Format:      audio.DefaultFormat(),
	}
	encoded, err := tk.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return tk, encoded
}

func TestSplitJoinTicket(t *testing.T) {
	_, encoded := testTicket(t)
	txt := SplitTicket(encoded)
	if len(txt) < 2 {
		t.Fatalf("expected a multi-chunk ticket, got %d chunks", len(txt))
	}
	for _, field := range txt {
		if len(field) > 255 {
			t.Errorf("TXT string of %d bytes exceeds 255", len(field))
		}
	}

	// Order on the wire is not guaranteed; reverse and add noise.
	shuffled := []string{"path=/ignored"}
	for i := len(txt) - 1; i >= 0; i-- {
		shuffled = append(shuffled, txt[i])
	}
	got, err := JoinTicket(shuffled)
	if err != nil {
		t.Fatalf("JoinTicket: %v", err)
	}
	if got != encoded {
		t.Error("reassembled ticket differs from original")
	}
}

func TestJoinTicketMissingChunk(t *testing.T) {
	_, encoded := testTicket(t)
	txt := SplitTicket(encoded)
	if _, err := JoinTicket(txt[1:]); err == nil {
		t.Error("JoinTicket without t0 succeeded")
	}
	if _, err := JoinTicket([]string{"path=/x"}); err == nil {
		t.Error("JoinTicket without chunks succeeded")
	}
}

func TestFromEntry(t *testing.T) {
	tk, encoded := testTicket(t)
	entry := &mdns.ServiceEntry{
		Name:       `Living\ Room._hearme._udp.local.`,
		Port:       7400,
		InfoFields: SplitTicket(encoded),
	}

	f, err := fromEntry(entry)
	if err != nil {
		t.Fatalf("fromEntry: %v", err)
	}
	if f.Name != "Living Room" || f.Port != 7400 {
		t.Errorf("found = %+v", f)
	}
	if f.Ticket.SessionID != tk.SessionID {
		t.Errorf("session id = %q", f.Ticket.SessionID)
	}

	entry.InfoFields = []string{"t0=garbage"}
	if _, err := fromEntry(entry); err == nil {
		t.Error("fromEntry accepted an invalid ticket")
	}
}

func TestInstanceName(t *testing.T) {
	tests := map[string]string{
		`Desk._hearme._udp.local.`:    "Desk",
		`My\ Mac._hearme._udp.local.`: "My Mac",
		`other.host.`:                 "other.host",
	}
	for in, want := range tests {
		if got := instanceName(in); got != want {
			t.Errorf("instanceName(%q) = %q, want %q", in, got, want)
		}
	}
}
