// ABOUTME: Tests for command plumbing
// ABOUTME: Covers level parsing, flag overrides and ticket descriptions
package main

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/Sendspin/hearme/internal/config"
	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/ticket"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestApplyShareFlags(t *testing.T) {
	cmd := newShareCmd()
	if err := cmd.Flags().Parse([]string{"--name", "porch", "--codec", "pcm", "--max-listeners", "3"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg := config.Default()
	cfg.Share.Transport = "ws"
	applyShareFlags(cmd, &cfg.Share)

	if cfg.Share.Name != "porch" || cfg.Share.Codec != "pcm" || cfg.Share.MaxListeners != 3 {
		t.Errorf("share = %+v", cfg.Share)
	}
	if cfg.Share.Transport != "ws" {
		t.Errorf("unset flag overrode transport: %q", cfg.Share.Transport)
	}
}

func TestApplyListenFlags(t *testing.T) {
	cmd := newListenCmd()
	if err := cmd.Flags().Parse([]string{"--sink", "discard", "--underrun", "repeat"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg := config.Default()
	applyListenFlags(cmd, &cfg.Listen)
	if cfg.Listen.Sink != "discard" || cfg.Listen.Underrun != "repeat" || cfg.Listen.Volume != 100 {
		t.Errorf("listen = %+v", cfg.Listen)
	}
}

func TestDescribeTicket(t *testing.T) {
	tk := ticket.Ticket{
		Version:     ticket.Version,
		SessionID:   "abc",
		Name:        "den",
		Transport:   ticket.TransportQUIC,
		Addrs:       []string{"10.0.0.2:7400", "[fd00::2]:7400"},
		Fingerprint: "fp",
		Token:       make([]byte, ticket.TokenSize),
		Format:      audio.DefaultFormat(),
	}
	out := describeTicket(tk)
	for _, want := range []string{"den", "quic", "10.0.0.2:7400, [fd00::2]:7400", "opus 48000Hz 2ch 20ms", "fp"} {
		if !strings.Contains(out, want) {
			t.Errorf("description missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Token") {
		t.Error("description leaks the token")
	}
}
