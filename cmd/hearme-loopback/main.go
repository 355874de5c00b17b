// ABOUTME: Loopback demo: one share and N listeners in a single process
// ABOUTME: Prints per-listener playback statistics when the run ends
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/hearme/internal/fanout"
	"github.com/Sendspin/hearme/pkg/audio"
	"github.com/Sendspin/hearme/pkg/audio/output"
	"github.com/Sendspin/hearme/pkg/capture"
	"github.com/Sendspin/hearme/pkg/hearme"
	"github.com/Sendspin/hearme/pkg/ticket"
	"github.com/Sendspin/hearme/pkg/transport"
)

type options struct {
	listeners int
	transport string
	codec     string
	duration  time.Duration
	stagger   time.Duration
	queue     int
	overflow  string
	verbose   bool
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "hearme-loopback",
		Short: "Run a share and several listeners in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.IntVarP(&opts.listeners, "listeners", "n", 3, "number of listeners")
	f.StringVar(&opts.transport, "transport", ticket.TransportPipe, "pipe, quic or ws")
	f.StringVar(&opts.codec, "codec", audio.DefaultCodec, "opus or pcm")
	f.DurationVar(&opts.duration, "duration", 5*time.Second, "how long to run")
	f.DurationVar(&opts.stagger, "stagger", 250*time.Millisecond, "delay between listener joins")
	f.IntVar(&opts.queue, "queue", fanout.DefaultQueueSize, "per-listener queue size")
	f.StringVar(&opts.overflow, "overflow", fanout.DropOldest.String(), "drop_oldest or drop_newest")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	policy, err := fanout.ParsePolicy(opts.overflow)
	if err != nil {
		return err
	}
	format := audio.DefaultFormat()
	format.Codec = opts.codec

	ep, dialer, err := bind(opts.transport, logger)
	if err != nil {
		return err
	}

	share, err := hearme.NewShareSession(hearme.ShareConfig{
		Name:        "loopback",
		Source:      capture.NewTone(format, capture.DefaultToneFrequency, true),
		Listener:    ep.Listener,
		Transport:   ep.Transport,
		Fingerprint: ep.Fingerprint,
		QueueSize:   opts.queue,
		Overflow:    policy,
		Logger:      logger,
	})
	if err != nil {
		ep.Listener.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	t, err := share.Start(ctx)
	if err != nil {
		share.Stop()
		return err
	}
	defer share.Stop()
	fmt.Printf("share %s on %s (%s), %d listeners for %v\n", t.SessionID, t.Transport, format, opts.listeners, opts.duration)

	listeners := make([]*hearme.ListenSession, opts.listeners)
	g, gctx := errgroup.WithContext(ctx)
	for i := range listeners {
		l, err := hearme.NewListenSession(hearme.ListenConfig{
			Ticket: t,
			Dialer: dialer,
			Sink:   output.NewDiscard(),
			Logger: logger.With("listener", i),
		})
		if err != nil {
			return err
		}
		listeners[i] = l
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(time.Duration(i) * opts.stagger):
			}
			if err := l.Start(gctx); err != nil {
				return err
			}
			<-l.Done()
			return l.Wait()
		})
	}
	err = g.Wait()

	report(share, listeners)
	return err
}

// bind creates the share-side listener and the matching dialer.
func bind(kind string, logger *slog.Logger) (hearme.Endpoint, transport.Dialer, error) {
	if kind == ticket.TransportPipe {
		pipe := transport.NewPipe()
		l, err := pipe.Listen("loopback")
		if err != nil {
			return hearme.Endpoint{}, nil, err
		}
		return hearme.Endpoint{Listener: l, Transport: ticket.TransportPipe}, pipe, nil
	}

	ep, err := hearme.Listen(kind, "127.0.0.1:0", logger)
	if err != nil {
		return hearme.Endpoint{}, nil, err
	}
	dialer, err := hearme.DialerFor(ticket.Ticket{Transport: ep.Transport})
	if err != nil {
		ep.Listener.Close()
		return hearme.Endpoint{}, nil, err
	}
	return ep, dialer, nil
}

func report(share *hearme.ShareSession, listeners []*hearme.ListenSession) {
	st := share.Stats()
	fmt.Printf("\nshare: %d frames sent, %d encode overruns\n\n", st.FramesSent, st.Overruns)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "listener\treceived\tplayed\tconcealed\tlost\tlate\tunderruns\treconnects\t")
	for i, l := range listeners {
		ls := l.Stats()
		b := ls.Buffer
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			i, b.Received, b.Played, b.Concealed, b.Lost, b.Late, b.Underruns, ls.Reconnects)
	}
	w.Flush()
}
