// ABOUTME: The share command: capture a source and stream it to listeners
// ABOUTME: Prints the ticket and shows the share status view until stopped
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/hearme/internal/config"
	"github.com/Sendspin/hearme/internal/ui"
	"github.com/Sendspin/hearme/pkg/capture"
	"github.com/Sendspin/hearme/pkg/hearme"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Share an audio source",
		Long: `Capture an audio source and stream it to every listener holding
the printed ticket.

Sources: tone, tone:<hz>, file:<path>, <path>.mp3, <path>.flac, device, device:<id>`,
		Args: cobra.NoArgs,
		RunE: runShare,
	}
	f := cmd.Flags()
	f.String("name", "", "name shown to listeners")
	f.String("source", "", "audio source (see 'hearme sources')")
	f.String("transport", "", "transport: quic or ws")
	f.String("addr", "", "listen address")
	f.String("codec", "", "codec: opus or pcm")
	f.Int("bitrate", 0, "opus bitrate in bits per second")
	f.Int("max-listeners", 0, "refuse listeners beyond this count (0 is unlimited)")
	f.Bool("advertise", false, "advertise the ticket over mDNS")
	f.Bool("no-tui", false, "print logs instead of the status view")
	return cmd
}

func applyShareFlags(cmd *cobra.Command, s *config.ShareConfig) {
	f := cmd.Flags()
	if f.Changed("name") {
		s.Name, _ = f.GetString("name")
	}
	if f.Changed("source") {
		s.Source, _ = f.GetString("source")
	}
	if f.Changed("transport") {
		s.Transport, _ = f.GetString("transport")
	}
	if f.Changed("addr") {
		s.ListenAddr, _ = f.GetString("addr")
	}
	if f.Changed("codec") {
		s.Codec, _ = f.GetString("codec")
	}
	if f.Changed("bitrate") {
		s.Bitrate, _ = f.GetInt("bitrate")
	}
	if f.Changed("max-listeners") {
		s.MaxListeners, _ = f.GetInt("max-listeners")
	}
	if f.Changed("advertise") {
		s.Advertise, _ = f.GetBool("advertise")
	}
}

func runShare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyShareFlags(cmd, &cfg.Share)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Share.Name == "" {
		host, _ := os.Hostname()
		cfg.Share.Name = host
	}

	tui := useTUI(cmd)
	logger, closeLog, err := setupLogging(cfg.Log, tui)
	if err != nil {
		return err
	}
	defer closeLog()

	metrics, serveMetrics, err := setupMetrics(cfg.Metrics)
	if err != nil {
		return err
	}

	src, err := capture.Open(cfg.Share.Source, cfg.Share.Format(), logger)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	ep, err := hearme.Listen(cfg.Share.Transport, cfg.Share.ListenAddr, logger)
	if err != nil {
		src.Close()
		return fmt.Errorf("bind %s: %w", cfg.Share.Transport, err)
	}

	session, err := hearme.NewShareSession(hearme.ShareConfig{
		Name:                  cfg.Share.Name,
		Source:                src,
		Listener:              ep.Listener,
		Transport:             ep.Transport,
		Fingerprint:           ep.Fingerprint,
		Bitrate:               cfg.Share.Bitrate,
		QueueSize:             cfg.Share.QueueSize,
		Overflow:              cfg.Share.Policy(),
		EvictAfter:            cfg.Share.EvictAfter,
		MaxListeners:          cfg.Share.MaxListeners,
		StreamToEmptyAudience: cfg.Share.StreamToEmpty,
		Advertise:             cfg.Share.Advertise,
		Metrics:               metrics,
		Logger:                logger,
	})
	if err != nil {
		src.Close()
		ep.Listener.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := session.Start(ctx)
	if err != nil {
		session.Stop()
		return err
	}
	encoded, err := t.Encode()
	if err != nil {
		session.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if serveMetrics != nil {
		g.Go(func() error { return serveMetrics(gctx, logger) })
	}
	g.Go(func() error {
		defer session.Stop()
		if tui {
			return ui.RunShare(gctx, ui.ShareSnapshot(session, encoded))
		}
		fmt.Printf("Sharing %q (%s)\n\n%s\n\n", cfg.Share.Name, session.Format(), encoded)
		fmt.Printf("Listen with: hearme listen %s\n", encoded)
		select {
		case <-gctx.Done():
		case <-session.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-session.Done()
		stop()
		return session.Wait()
	})
	return g.Wait()
}
