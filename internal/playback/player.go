// ABOUTME: Fixed-clock playout loop feeding a sink from a Buffer
// ABOUTME: Emits one frame per period whether or not the network kept up
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sendspin/hearme/pkg/audio/output"
)

// Player drives a Buffer on a ticker
type Player struct {
	buf     *Buffer
	sink    output.Sink
	period  time.Duration
	onState func(State)
	logger  *slog.Logger
	ticks   uint64
}

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// Period between ticks. Default: the buffer format's frame duration.
	Period time.Duration

	// OnState is called from the playout goroutine on every state change.
	OnState func(State)

	Logger *slog.Logger
}

// NewPlayer creates a playout loop for buf. The sink must already be open.
func NewPlayer(buf *Buffer, sink output.Sink, cfg PlayerConfig) *Player {
	if cfg.Period <= 0 {
		cfg.Period = buf.cfg.Format.FrameDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Player{
		buf:     buf,
		sink:    sink,
		period:  cfg.Period,
		onState: cfg.OnState,
		logger:  cfg.Logger.With("component", "playout"),
	}
}

// Run ticks until ctx is cancelled or the sink fails. A sink failure is
// returned wrapped; cancellation returns nil.
func (p *Player) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	state := p.buf.State()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, result := p.buf.Tick()
		p.ticks++

		if s := p.buf.State(); s != state {
			p.logger.Info("playout state changed", "from", state, "to", s, "tick", p.ticks)
			state = s
			if p.onState != nil {
				p.onState(s)
			}
		}
		if result == Concealed {
			p.logger.Debug("concealed missing frame", "tick", p.ticks)
		}

		if err := p.sink.Submit(frame); err != nil {
			return fmt.Errorf("submit frame %d: %w", p.ticks, err)
		}
	}
}
