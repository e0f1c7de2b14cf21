package ui

import (
	"fmt"
	"strings"

	"dlqueue/internal/queue"
	"dlqueue/pkg/models"
)

const (
	ProgressFull  = "█"
	ProgressEmpty = "░"
)

// ProgressBar renders percent as a fixed width bar
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return strings.Repeat(ProgressFull, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// PrintProgress prints the progress of a single job
func PrintProgress(id string, p models.Progress) {
	fmt.Printf("%s [%s] %5.1f%%\n", Cyan(id), ProgressBar(p.Percent, 30), p.Percent)
	if p.Downloaded != "" || p.Total != "" {
		fmt.Printf("  %s %s / %s\n", Dim("size:"), p.Downloaded, orDash(p.Total))
	}
	if p.Speed != "" {
		fmt.Printf("  %s %s  %s %s\n", Dim("speed:"), p.Speed, Dim("eta:"), orDash(p.ETA))
	}
}

// PrintStatus prints every non-empty set of a queue snapshot
func PrintStatus(s queue.Status) {
	fmt.Printf("%s %d/%d  %s %d  %s %d  %s %d\n",
		Cyan("active"), s.ActiveCount, s.MaxConcurrent,
		Cyan("queued"), s.QueuedCount,
		Cyan("incomplete"), s.IncompleteCount,
		Cyan("finished"), s.CompletedCount)

	sections := []struct {
		title string
		jobs  []models.Job
	}{
		{"ACTIVE", s.Active},
		{"QUEUED", s.Queued},
		{"INCOMPLETE", s.Incomplete},
		{"FINISHED", s.Completed},
	}
	for _, sec := range sections {
		if len(sec.jobs) == 0 {
			continue
		}
		fmt.Printf("\n%s\n", Magenta(sec.title))
		for _, job := range sec.jobs {
			fmt.Println("  " + JobLine(job))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
