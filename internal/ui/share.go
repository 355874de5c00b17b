// ABOUTME: Terminal status view for a share session
// ABOUTME: Shows the ticket, state, frame counters and every attached listener
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/hearme/pkg/hearme"
)

// ShareStatus is what the share view renders.
type ShareStatus struct {
	Name      string
	Ticket    string
	Format    string
	Stats     hearme.ShareStats
	Listeners []hearme.ListenerInfo
}

// ShareSnapshot returns the status of s for the share view.
func ShareSnapshot(s *hearme.ShareSession, encodedTicket string) func() ShareStatus {
	return func() ShareStatus {
		return ShareStatus{
			Name:      s.Ticket().Name,
			Ticket:    encodedTicket,
			Format:    s.Format().String(),
			Stats:     s.Stats(),
			Listeners: s.Listeners(),
		}
	}
}

type shareModel struct {
	snapshot func() ShareStatus
	status   ShareStatus
	quitting bool
}

// NewShareModel returns the share view polling snapshot.
func NewShareModel(snapshot func() ShareStatus) tea.Model {
	return shareModel{snapshot: snapshot, status: snapshot()}
}

func (m shareModel) Init() tea.Cmd {
	return tickEvery()
}

func (m shareModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.status = m.snapshot()
		if m.status.Stats.State == hearme.ShareStopped {
			return m, tea.Quit
		}
		return m, tickEvery()
	}
	return m, nil
}

func (m shareModel) View() string {
	if m.quitting {
		return "Stopping share...\n"
	}

	st := m.status
	var b strings.Builder
	b.WriteString(titleStyle.Render("hearme · sharing " + st.Name))
	b.WriteString("\n\n")

	field(&b, "State", st.Stats.State.String())
	field(&b, "Format", st.Format)
	field(&b, "Uptime", st.Stats.Uptime.Round(time.Second).String())
	field(&b, "Frames sent", fmt.Sprintf("%d", st.Stats.FramesSent))
	if st.Stats.Overruns > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("Encode overruns: %d", st.Stats.Overruns)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Ticket:"))
	b.WriteString("\n")
	b.WriteString(valueStyle.Render(st.Ticket))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Listeners (%d)", len(st.Listeners))))
	b.WriteString("\n\n")
	if len(st.Listeners) == 0 {
		b.WriteString(valueStyle.Render("  Waiting for listeners"))
		b.WriteString("\n")
	}
	for _, l := range st.Listeners {
		b.WriteString(fmt.Sprintf("  • %-22s ", truncate(l.Remote, 22)))
		b.WriteString(valueStyle.Render(fmt.Sprintf("[%s] %2d/%d  sent %d  dropped %d  %s",
			renderBar(l.Queued, l.Capacity, 10), l.Queued, l.Capacity,
			l.Sent, l.Dropped, l.Connected.Round(time.Second))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to stop sharing"))
	return b.String()
}

// RunShare shows the share view until the user quits, the session stops
// or ctx ends.
func RunShare(ctx context.Context, snapshot func() ShareStatus) error {
	return run(ctx, NewShareModel(snapshot))
}

func run(ctx context.Context, m tea.Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
	return nil
}
