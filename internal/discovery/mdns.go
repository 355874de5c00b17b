// ABOUTME: mDNS advertisement and browsing of share sessions
// ABOUTME: Carries the encoded ticket in chunked TXT records
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

// ServiceType is the mDNS service advertised by sharers.
const ServiceType = "_hearme._udp"

// DefaultBrowseTimeout bounds one browse round.
const DefaultBrowseTimeout = 3 * time.Second

// txtChunk keeps each TXT string well under the 255 byte limit.
const txtChunk = 200

// ErrNotFound is returned by Find when no matching session answered.
var ErrNotFound = errors.New("no share session found")

// Config holds advertisement configuration
type Config struct {
	// Name is the mDNS instance name, usually the share name.
	Name string
	// Port is the transport port listeners dial.
	Port int
	// Ticket is the encoded ticket published in TXT records.
	Ticket string
	Logger *slog.Logger
}

// Advertiser publishes one share session until closed
type Advertiser struct {
	server *mdns.Server
	logger *slog.Logger
}

// Advertise starts answering mDNS queries for the session
func Advertise(cfg Config) (*Advertiser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "discovery")

	ips, err := transport.LocalIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}
	var v4 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		}
	}

	service, err := mdns.NewMDNSService(cfg.Name, ServiceType, "", "", cfg.Port, v4, SplitTicket(cfg.Ticket))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	logger.Info("advertising share session", "name", cfg.Name, "port", cfg.Port, "type", ServiceType)
	return &Advertiser{server: server, logger: logger}, nil
}

// Close stops answering queries.
func (a *Advertiser) Close() error {
	a.logger.Debug("advertisement stopped")
	return a.server.Shutdown()
}

// SplitTicket cuts an encoded ticket into ordered TXT strings t0=, t1=, ...
func SplitTicket(encoded string) []string {
	var txt []string
	for i := 0; len(encoded) > 0; i++ {
		n := min(txtChunk, len(encoded))
		txt = append(txt, "t"+strconv.Itoa(i)+"="+encoded[:n])
		encoded = encoded[n:]
	}
	return txt
}

// JoinTicket reassembles SplitTicket output in any order. Unrelated TXT
// strings are ignored; a missing chunk is an error.
func JoinTicket(txt []string) (string, error) {
	chunks := make(map[int]string)
	for _, field := range txt {
		key, value, ok := strings.Cut(field, "=")
		if !ok || len(key) < 2 || key[0] != 't' {
			continue
		}
		idx, err := strconv.Atoi(key[1:])
		if err != nil || idx < 0 {
			continue
		}
		chunks[idx] = value
	}
	if len(chunks) == 0 {
		return "", errors.New("no ticket in TXT records")
	}

	idxs := make([]int, 0, len(chunks))
	for i := range chunks {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	var b strings.Builder
	for want, got := range idxs {
		if want != got {
			return "", fmt.Errorf("ticket chunk t%d missing", want)
		}
		b.WriteString(chunks[got])
	}
	return b.String(), nil
}

// Found is one share session seen on the network.
type Found struct {
	Name   string
	Host   string
	Port   int
	Ticket ticket.Ticket
}

// Browse queries the local network once and returns every session with a
// valid ticket.
func Browse(ctx context.Context, timeout time.Duration, logger *slog.Logger) ([]Found, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	results := make(chan []Found, 1)
	go func() {
		var found []Found
		for entry := range entries {
			f, err := fromEntry(entry)
			if err != nil {
				logger.Debug("ignoring mdns entry", "name", entry.Name, "error", err)
				continue
			}
			logger.Info("discovered share session", "name", f.Name, "host", f.Host, "port", f.Port)
			found = append(found, f)
		}
		results <- found
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	found := <-results
	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

// Find browses and returns the ticket of the session named name, or of
// the first session found when name is empty.
func Find(ctx context.Context, name string, timeout time.Duration, logger *slog.Logger) (ticket.Ticket, error) {
	found, err := Browse(ctx, timeout, logger)
	if err != nil && len(found) == 0 {
		return ticket.Ticket{}, err
	}
	for _, f := range found {
		if name == "" || strings.EqualFold(f.Name, name) {
			return f.Ticket, nil
		}
	}
	if name != "" {
		return ticket.Ticket{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return ticket.Ticket{}, ErrNotFound
}

func fromEntry(entry *mdns.ServiceEntry) (Found, error) {
	encoded, err := JoinTicket(entry.InfoFields)
	if err != nil {
		return Found{}, err
	}
	t, err := ticket.Parse(encoded)
	if err != nil {
		return Found{}, err
	}
	f := Found{
		Name:   instanceName(entry.Name),
		Port:   entry.Port,
		Ticket: t,
	}
	if entry.AddrV4 != nil {
		f.Host = entry.AddrV4.String()
	}
	if t.Name != "" {
		f.Name = t.Name
	}
	return f, nil
}

// instanceName strips the service and domain from an mDNS entry name.
func instanceName(full string) string {
	name, _, found := strings.Cut(full, "."+ServiceType)
	if !found {
		return strings.TrimSuffix(full, ".")
	}
	return strings.ReplaceAll(name, `\ `, " ")
}
