// ABOUTME: The listen command: join a share from a ticket or mDNS
// ABOUTME: Plays through the chosen sink and shows the listen status view
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/hearme/internal/config"
	"github.com/Sendspin/hearme/internal/discovery"
	"github.com/Sendspin/hearme/internal/playback"
	"github.com/Sendspin/hearme/internal/ui"
	"github.com/Sendspin/hearme/pkg/audio/output"
	"github.com/Sendspin/hearme/pkg/hearme"
	"github.com/Sendspin/hearme/pkg/ticket"
)

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen [ticket]",
		Short: "Listen to a share",
		Long: `Join a share session and play it. Pass the ticket printed by
'hearme share', or use --discover to find one on the local network.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runListen,
	}
	f := cmd.Flags()
	f.Bool("discover", false, "find a share over mDNS instead of passing a ticket")
	f.String("name", "", "with --discover, join the share with this name")
	f.Duration("discover-timeout", discovery.DefaultBrowseTimeout, "how long to browse")
	f.String("sink", "", "audio sink: oto or discard")
	f.Int("volume", 0, "initial volume 0-100")
	f.Int("prefill", 0, "frames buffered before playback starts")
	f.String("underrun", "", "underrun policy: silence or repeat_last")
	f.Bool("no-tui", false, "print logs instead of the status view")
	return cmd
}

func applyListenFlags(cmd *cobra.Command, l *config.ListenConfig) {
	f := cmd.Flags()
	if f.Changed("sink") {
		l.Sink, _ = f.GetString("sink")
	}
	if f.Changed("volume") {
		l.Volume, _ = f.GetInt("volume")
	}
	if f.Changed("prefill") {
		l.Prefill, _ = f.GetInt("prefill")
	}
	if f.Changed("underrun") {
		l.Underrun, _ = f.GetString("underrun")
	}
}

func resolveTicket(ctx context.Context, cmd *cobra.Command, args []string, logger *slog.Logger) (ticket.Ticket, error) {
	discover, _ := cmd.Flags().GetBool("discover")
	switch {
	case len(args) == 1 && discover:
		return ticket.Ticket{}, errors.New("pass a ticket or --discover, not both")
	case len(args) == 1:
		return ticket.Parse(args[0])
	case discover:
		name, _ := cmd.Flags().GetString("name")
		timeout, _ := cmd.Flags().GetDuration("discover-timeout")
		return discovery.Find(ctx, name, timeout, logger)
	default:
		return ticket.Ticket{}, errors.New("a ticket is required (or use --discover)")
	}
}

func newSink(l config.ListenConfig, logger *slog.Logger) output.Sink {
	if l.Sink == "discard" {
		return output.NewDiscard()
	}
	o := output.NewOto(logger)
	o.SetVolume(l.Volume)
	return o
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyListenFlags(cmd, &cfg.Listen)
	if err := cfg.Validate(); err != nil {
		return err
	}

	tui := useTUI(cmd)
	logger, closeLog, err := setupLogging(cfg.Log, tui)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := resolveTicket(ctx, cmd, args, logger)
	if err != nil {
		return err
	}
	dialer, err := hearme.DialerFor(t)
	if err != nil {
		return err
	}

	metrics, serveMetrics, err := setupMetrics(cfg.Metrics)
	if err != nil {
		return err
	}

	sink := newSink(cfg.Listen, logger)
	session, err := hearme.NewListenSession(hearme.ListenConfig{
		Ticket:        t,
		Dialer:        dialer,
		Sink:          sink,
		Prefill:       cfg.Listen.Prefill,
		MaxDepth:      cfg.Listen.MaxDepth,
		RebufferAfter: cfg.Listen.RebufferAfter,
		Underrun:      cfg.Listen.UnderrunPolicy(),
		MaxAttempts:   cfg.Listen.MaxAttempts,
		Backoff:       cfg.Listen.Backoff,
		MaxBackoff:    cfg.Listen.MaxBackoff,
		StallTimeout:  cfg.Listen.StallTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}

	maxDepth := cfg.Listen.MaxDepth
	if maxDepth == 0 {
		maxDepth = playback.DefaultMaxDepth
	}
	vol, _ := sink.(output.VolumeControl)

	g, gctx := errgroup.WithContext(ctx)
	if serveMetrics != nil {
		g.Go(func() error { return serveMetrics(gctx, logger) })
	}
	g.Go(func() error {
		defer session.Stop()
		if tui {
			return ui.RunListen(gctx, ui.ListenSnapshot(session, maxDepth), vol)
		}
		fmt.Printf("Listening to %q (%s)\n", t.Name, t.Format)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-session.Done():
				return nil
			case <-ticker.C:
				st := session.Stats()
				logger.Info("playback", "state", st.State, "depth", st.Buffer.Depth,
					"played", st.Buffer.Played, "concealed", st.Buffer.Concealed, "late", st.Buffer.Late)
			}
		}
	})
	g.Go(func() error {
		<-session.Done()
		stop()
		return session.Wait()
	})
	return g.Wait()
}
