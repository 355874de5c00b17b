// ABOUTME: Terminal status view for a listen session
// ABOUTME: Shows connection and buffer state and handles volume keys
package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/hearme/pkg/audio/output"
	"github.com/Sendspin/hearme/pkg/hearme"
)

const volumeStep = 5

// ListenStatus is what the listen view renders.
type ListenStatus struct {
	Sharer   string
	Format   string
	MaxDepth int
	Stats    hearme.ListenStats
}

// ListenSnapshot returns the status of l for the listen view.
func ListenSnapshot(l *hearme.ListenSession, maxDepth int) func() ListenStatus {
	t := l.Ticket()
	return func() ListenStatus {
		return ListenStatus{
			Sharer:   t.Name,
			Format:   t.Format.String(),
			MaxDepth: maxDepth,
			Stats:    l.Stats(),
		}
	}
}

type listenModel struct {
	snapshot func() ListenStatus
	volume   output.VolumeControl
	status   ListenStatus
	quitting bool
}

// NewListenModel returns the listen view. volume may be nil when the sink
// has no volume control.
func NewListenModel(snapshot func() ListenStatus, volume output.VolumeControl) tea.Model {
	return listenModel{snapshot: snapshot, volume: volume, status: snapshot()}
}

func (m listenModel) Init() tea.Cmd {
	return tickEvery()
}

func (m listenModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.status = m.snapshot()
		if m.status.Stats.State == hearme.ListenStopped {
			return m, tea.Quit
		}
		return m, tickEvery()
	}
	return m, nil
}

func (m listenModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "+":
		if m.volume != nil {
			m.volume.SetVolume(m.volume.Volume() + volumeStep)
		}
	case "down", "-":
		if m.volume != nil {
			m.volume.SetVolume(m.volume.Volume() - volumeStep)
		}
	case "m":
		if m.volume != nil {
			m.volume.SetMuted(!m.volume.Muted())
		}
	}
	return m, nil
}

func (m listenModel) View() string {
	if m.quitting {
		return "Stopping listener...\n"
	}

	st := m.status
	buf := st.Stats.Buffer
	var b strings.Builder
	b.WriteString(titleStyle.Render("hearme · listening to " + st.Sharer))
	b.WriteString("\n\n")

	field(&b, "State", st.Stats.State.String())
	if st.Stats.Remote != "" {
		field(&b, "Remote", st.Stats.Remote)
	}
	field(&b, "Format", st.Format)
	field(&b, "Buffer", fmt.Sprintf("[%s] %d frames", renderBar(buf.Depth, st.MaxDepth, 10), buf.Depth))
	if m.volume != nil {
		vol := fmt.Sprintf("[%s] %d%%", renderBar(m.volume.Volume(), 100, 10), m.volume.Volume())
		if m.volume.Muted() {
			vol += " muted"
		}
		field(&b, "Volume", vol)
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Playback"))
	b.WriteString("\n")
	field(&b, "  Received", fmt.Sprintf("%d", buf.Received))
	field(&b, "  Played", fmt.Sprintf("%d", buf.Played))
	field(&b, "  Concealed", fmt.Sprintf("%d (lost %d)", buf.Concealed, buf.Lost))
	field(&b, "  Late/dup", fmt.Sprintf("%d/%d", buf.Late, buf.Duplicates))
	field(&b, "  Underruns", fmt.Sprintf("%d", buf.Underruns))
	if st.Stats.Reconnects > 0 || st.Stats.DecodeErrors > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("Reconnects %d, decode errors %d",
			st.Stats.Reconnects, st.Stats.DecodeErrors)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	help := "q:Quit"
	if m.volume != nil {
		help = "↑/↓:Volume  m:Mute  " + help
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

// RunListen shows the listen view until the user quits, the session
// stops or ctx ends.
func RunListen(ctx context.Context, snapshot func() ListenStatus, volume output.VolumeControl) error {
	return run(ctx, NewListenModel(snapshot, volume))
}
