package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
)

const (
	maxQueuedShown   = 8
	maxFinishedShown = 5
	maxLogsShown     = 10
)

// View renders the entire dashboard
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())

	colWidth := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(colWidth),
		m.renderActivePanel(colWidth),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderQueuePanel(colWidth),
		m.renderLogsPanel(colWidth),
	)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit  r refresh  c clear finished  ? help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderHeader() string {
	state := successStyle.Render("connected")
	switch {
	case m.lastErr != nil:
		state = errorStyle.Render("unreachable")
	case !m.haveStatus:
		state = m.spinner.View() + " connecting"
	}
	return headerStyle.Render(fmt.Sprintf("DLQUEUE %s  %s", logger.Version, state))
}

// renderStatsPanel renders the set counts
func (m *Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" QUEUE ")
	s := m.status

	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("15:04:05")
	}

	stats := []string{
		statLine("Active:", fmt.Sprintf("%d / %d", s.ActiveCount, s.MaxConcurrent)),
		statLine("Queued:", fmt.Sprintf("%d", s.QueuedCount)),
		statLine("Incomplete:", fmt.Sprintf("%d", s.IncompleteCount)),
		statLine("Finished:", fmt.Sprintf("%d", s.CompletedCount)),
		statLine("Watching:", formatDuration(time.Since(m.startTime))),
		statLine("Updated:", updated),
	}
	if m.lastErr != nil {
		stats = append(stats, errorStyle.Render(truncate(m.lastErr.Error(), width-4)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func statLine(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

// renderActivePanel renders running jobs with progress bars
func (m *Model) renderActivePanel(width int) string {
	title := titleStyle.Render(" ACTIVE DOWNLOADS ")

	if len(m.status.Active) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, dimStyle.Render("No active downloads")),
		)
	}

	var items []string
	for _, job := range m.status.Active {
		items = append(items, m.renderActiveJob(job, width-4))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

func (m *Model) renderActiveJob(job models.Job, width int) string {
	p := job.Progress

	info := fmt.Sprintf("%s %s", queueItemActiveStyle.Render(truncate(job.DisplayName(), width-14)), stateStyle(job.State).Render(string(job.State)))

	detail := dimStyle.Render(fmt.Sprintf("%s / %s", orDash(p.Downloaded), orDash(p.Total)))
	if p.Speed != "" {
		detail += " @ " + speedStyle.Render(p.Speed)
	}
	if p.ETA != "" {
		detail += dimStyle.Render(" eta " + p.ETA)
	}

	bar := m.bar
	bar.Width = width - 8
	if bar.Width < 10 {
		bar.Width = 10
	}

	return lipgloss.JoinVertical(lipgloss.Left, info, bar.ViewAs(p.Percent/100), detail)
}

// renderQueuePanel renders waiting, incomplete and recently finished jobs
func (m *Model) renderQueuePanel(width int) string {
	title := titleStyle.Render(" DOWNLOAD QUEUE ")
	s := m.status
	lineWidth := width - 8

	var items []string
	if len(s.Queued) > 0 {
		items = append(items, warningStyle.Render(fmt.Sprintf("⏳ %d queued", len(s.Queued))))
		for i, job := range s.Queued {
			if i == maxQueuedShown {
				items = append(items, queueItemStyle.Render(dimStyle.Render(fmt.Sprintf("… %d more", len(s.Queued)-i))))
				break
			}
			items = append(items, queueItemStyle.Render(fmt.Sprintf("%d. %s", job.QueuePosition, truncate(job.DisplayName(), lineWidth))))
		}
	}

	if len(s.Incomplete) > 0 {
		items = append(items, "", warningStyle.Render(fmt.Sprintf("⏸ %d incomplete", len(s.Incomplete))))
		for _, job := range s.Incomplete {
			items = append(items, queueItemStyle.Render(fmt.Sprintf("%5.1f%% %s", job.Progress.Percent, truncate(job.DisplayName(), lineWidth-7))))
		}
	}

	if len(s.Completed) > 0 {
		items = append(items, "", successStyle.Render(fmt.Sprintf("✓ %d finished", len(s.Completed))))
		start := len(s.Completed) - maxFinishedShown
		if start < 0 {
			start = 0
		}
		for _, job := range s.Completed[start:] {
			mark := "✓"
			if job.State != models.StateCompleted {
				mark = "✗"
			}
			items = append(items, queueItemStyle.Render(stateStyle(job.State).Render(mark)+" "+truncate(job.DisplayName(), lineWidth)))
		}
	}

	if len(items) == 0 {
		items = append(items, dimStyle.Render("Queue is empty"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

// renderLogsPanel renders the notification log
func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" EVENTS ")

	start := len(m.logMessages) - maxLogsShown
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, entry := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(entry.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(entry.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", entry.Level))
		message := logMessageStyle.Render(truncate(entry.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = dimStyle.Render("No events yet...")
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Quit the dashboard
    r/R      - Refresh now
    c/C      - Clear finished jobs
    ctrl+l   - Clear the event log
    ?        - Toggle this help

  States:
    ` + successStyle.Render("Green") + `    - Completed
    ` + warningStyle.Render("Orange") + `   - Interrupted or cancelled
    ` + errorStyle.Render("Red") + `      - Failed
`
	return panelStyle.Width(m.width - 2).Render(help)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// truncate shortens s to max runes, marking the cut with an ellipsis
func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
