package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dlqueue/internal/queue"
)

// Source is the daemon the dashboard watches
type Source interface {
	Status(ctx context.Context) (queue.Status, error)
	ClearCompleted(ctx context.Context) (int, error)
}

// Model is the watch dashboard. It polls the daemon for a full status
// snapshot and keeps a log of the notifications it is sent.
type Model struct {
	source   Source
	interval time.Duration
	timeout  time.Duration

	// UI components
	spinner spinner.Model
	bar     progress.Model

	// Daemon state
	status     queue.Status
	haveStatus bool
	lastUpdate time.Time
	lastErr    error
	startTime  time.Time

	// UI state
	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a dashboard polling source every interval
func NewModel(source Source, interval time.Duration) *Model {
	if interval <= 0 {
		interval = time.Second
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return &Model{
		source:         source,
		interval:       interval,
		timeout:        5 * time.Second,
		spinner:        s,
		bar:            bar,
		startTime:      time.Now(),
		maxLogMessages: 50,
	}
}

// Init starts the spinner and the first status fetch
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchStatus(true))
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = errorRed
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	// Keep only the last N messages
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Status returns the last snapshot received from the daemon
func (m *Model) Status() queue.Status {
	return m.status
}

// LogMessages returns the retained log entries, oldest first
func (m *Model) LogMessages() []LogMessage {
	out := make([]LogMessage, len(m.logMessages))
	copy(out, m.logMessages)
	return out
}

// noteLevel maps a queue notification to a log level, or "" when the
// notification is too chatty for the log panel.
func noteLevel(t queue.NotificationType) string {
	switch t {
	case queue.NotifyCompleted:
		return "SUCCESS"
	case queue.NotifyFailed:
		return "ERROR"
	case queue.NotifyInterrupted, queue.NotifyDiscarded, queue.NotifyCancelled:
		return "WARN"
	case queue.NotifyProgress, queue.NotifyStage:
		return ""
	default:
		return "INFO"
	}
}
