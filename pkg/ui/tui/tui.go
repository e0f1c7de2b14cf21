package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dlqueue/internal/queue"
)

// TUI runs the watch dashboard
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a dashboard over source refreshed every interval
func New(ctx context.Context, source Source, interval time.Duration) *TUI {
	model := NewModel(source, interval)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	return &TUI{
		program: program,
		model:   model,
	}
}

// Run blocks until the user quits or the context ends
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Notify forwards a daemon notification to the event log
func (t *TUI) Notify(n queue.Notification) {
	t.Send(NotificationMsg(n))
}

// LogInfo adds an info line to the event log
func (t *TUI) LogInfo(message string) {
	t.Send(LogMsg{Level: "INFO", Message: message})
}

// LogError adds an error line to the event log
func (t *TUI) LogError(message string) {
	t.Send(LogMsg{Level: "ERROR", Message: message})
}
