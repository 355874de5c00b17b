// ABOUTME: Shared lipgloss styles and small render helpers
// ABOUTME: Used by both the share and the listen status views
package ui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RefreshInterval is how often the views poll their session.
const RefreshInterval = 250 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func renderBar(value, maxValue, width int) string {
	if maxValue <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(value*width/maxValue, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
