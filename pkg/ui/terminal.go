package ui

import (
	"fmt"
	"strings"

	"dlqueue/pkg/models"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔══════════════════════════════════════════════════╗
    ║  ██████╗ ██╗      ██████╗ ██╗   ██╗███████╗      ║
    ║  ██╔══██╗██║     ██╔═══██╗██║   ██║██╔════╝      ║
    ║  ██║  ██║██║     ██║   ██║██║   ██║█████╗        ║
    ║  ██║  ██║██║     ██║▄▄ ██║██║   ██║██╔══╝        ║
    ║  ██████╔╝███████╗╚██████╔╝╚██████╔╝███████╗      ║
    ║  ╚═════╝ ╚══════╝ ╚══▀▀═╝  ╚═════╝ ╚══════╝      ║
    ║            DOWNLOAD QUEUE DAEMON                 ║
    ╚══════════════════════════════════════════════════╝
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	fmt.Print(Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(Red(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Println(Green(msg))
}

// PrintInfo prints a label/value pair
func PrintInfo(label string, value string) {
	fmt.Printf("%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(Yellow(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Println(Magenta(msg))
}

// StateColor picks the color a job state is printed in
func StateColor(state models.State) func(string) string {
	switch state {
	case models.StateCompleted:
		return Green
	case models.StateFailed:
		return Red
	case models.StateInterrupted, models.StateCancelled:
		return Yellow
	case models.StateStarting, models.StateRunning, models.StateFinalizing:
		return Cyan
	default:
		return Dim
	}
}

// JobLine renders one job as a single status line
func JobLine(job models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-11s", job.ID, StateColor(job.State)(string(job.State)))

	switch {
	case job.State == models.StateQueued && job.QueuePosition > 0:
		fmt.Fprintf(&b, " #%-3d", job.QueuePosition)
	case job.State.IsActive() || job.State == models.StateInterrupted:
		fmt.Fprintf(&b, " %s %5.1f%%", ProgressBar(job.Progress.Percent, 20), job.Progress.Percent)
	}

	fmt.Fprintf(&b, "  %s", job.DisplayName())
	if job.Target.Format == models.FormatAudio {
		b.WriteString(Dim(" [audio]"))
	}
	if job.Result != nil && job.Result.Error != "" {
		fmt.Fprintf(&b, "\n    %s", Red(job.Result.Error))
	}
	return b.String()
}
