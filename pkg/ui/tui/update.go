package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"dlqueue/internal/queue"
)

// StatusMsg carries the result of one status poll
type StatusMsg struct {
	Status queue.Status
	Err    error
	At     time.Time

	// polled is set for fetches of the poll loop, which schedule the next one
	polled bool
}

// NotificationMsg forwards a daemon notification to the dashboard
type NotificationMsg queue.Notification

// ClearedMsg reports the result of clearing finished jobs
type ClearedMsg struct {
	Removed int
	Err     error
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// pollMsg schedules the next status fetch
type pollMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollMsg:
		return m, m.fetchStatus(true)

	case StatusMsg:
		if msg.Err != nil {
			if m.lastErr == nil {
				m.AddLogMessage("ERROR", "Daemon unreachable: "+msg.Err.Error())
			}
			m.lastErr = msg.Err
		} else {
			if m.lastErr != nil {
				m.AddLogMessage("INFO", "Daemon reachable again")
			}
			m.lastErr = nil
			m.status = msg.Status
			m.haveStatus = true
			m.lastUpdate = msg.At
		}
		if !msg.polled {
			return m, nil
		}
		return m, m.schedulePoll()

	case NotificationMsg:
		level := noteLevel(msg.Type)
		if level == "" {
			return m, nil
		}
		m.AddLogMessage(level, describe(queue.Notification(msg)))
		// Membership changed, so refresh now rather than at the next poll
		return m, m.fetchStatus(false)

	case ClearedMsg:
		if msg.Err != nil {
			m.AddLogMessage("ERROR", "Clear failed: "+msg.Err.Error())
			return m, nil
		}
		m.AddLogMessage("INFO", fmt.Sprintf("Cleared %d finished jobs", msg.Removed))
		return m, m.fetchStatus(false)

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "r", "R":
		return m, m.fetchStatus(false)

	case "c", "C":
		return m, m.clearCompleted()

	case "ctrl+l":
		m.logMessages = nil
		return m, nil
	}

	return m, nil
}

// Commands

func (m *Model) fetchStatus(polled bool) tea.Cmd {
	source, timeout := m.source, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		status, err := source.Status(ctx)
		return StatusMsg{Status: status, Err: err, At: time.Now(), polled: polled}
	}
}

func (m *Model) schedulePoll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (m *Model) clearCompleted() tea.Cmd {
	source, timeout := m.source, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := source.ClearCompleted(ctx)
		return ClearedMsg{Removed: n, Err: err}
	}
}

func describe(n queue.Notification) string {
	subject := n.JobID
	if n.Job != nil && n.Job.Target.URL != "" {
		subject = n.Job.DisplayName()
	}

	switch n.Type {
	case queue.NotifyCleared:
		return fmt.Sprintf("Cleared %d finished jobs", n.Count)
	case queue.NotifyRecovered:
		return "Queue recovered: " + n.Message
	case queue.NotifyFailed:
		return "Failed: " + subject + " - " + n.Message
	}

	text := string(n.Type) + ": " + subject
	if n.Message != "" && n.Type != queue.NotifyCompleted {
		text += " (" + n.Message + ")"
	}
	return text
}
