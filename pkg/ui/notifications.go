package ui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"dlqueue/internal/queue"
	"dlqueue/pkg/config"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("dlqueue").Show($toast)
	`, xmlEscape(title), xmlEscape(message))

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}

// Notifier reports finished downloads on the console and, for the desktop
// type, through the platform notification system.
type Notifier struct {
	cfg    config.NotificationConfig
	sender NotificationSender
	print  func(format string, args ...interface{})
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier(cfg config.NotificationConfig) *Notifier {
	var sender NotificationSender
	if strings.EqualFold(cfg.NotificationType, "desktop") {
		switch runtime.GOOS {
		case "linux":
			sender = &LinuxNotificationSender{}
		case "darwin":
			sender = &MacOSNotificationSender{}
		case "windows":
			sender = &WindowsNotificationSender{}
		}
	}

	return &Notifier{
		cfg:    cfg,
		sender: sender,
		print:  func(format string, args ...interface{}) { fmt.Printf(format, args...) },
	}
}

// Enabled reports whether any notification would be produced
func (n *Notifier) Enabled() bool {
	return n.cfg.Enabled && !strings.EqualFold(n.cfg.NotificationType, "none") &&
		(n.cfg.OnComplete || n.cfg.OnError)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	n.print("\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	n.print("\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// Notifications are best effort
		_ = n.sender.Send(title, message)
	}
}

// Handle turns a queue notification into a user notification when it is a
// completion or failure the configuration asks for. It returns whether
// anything was sent.
func (n *Notifier) Handle(note queue.Notification) bool {
	if !n.Enabled() {
		return false
	}

	target := note.JobID
	if note.Job != nil {
		target = note.Job.DisplayName()
	}

	switch note.Type {
	case queue.NotifyCompleted:
		if !n.cfg.OnComplete {
			return false
		}
		msg := target
		if note.Message != "" {
			msg = note.Message
		}
		n.SendSuccess("Download complete", msg)
		return true
	case queue.NotifyFailed:
		if !n.cfg.OnError {
			return false
		}
		msg := target
		if note.Message != "" {
			msg += ": " + note.Message
		}
		n.SendError("Download failed", msg)
		return true
	}
	return false
}

// Watch handles notifications until ctx is done or the channel closes
func (n *Notifier) Watch(ctx context.Context, notes <-chan queue.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			n.Handle(note)
		}
	}
}
