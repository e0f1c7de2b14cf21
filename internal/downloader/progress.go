package downloader

import (
	"fmt"
	"sync"
	"time"

	"dlqueue/pkg/models"
)

// progressReporter turns byte counts into throttled progress deltas
type progressReporter struct {
	emit     Emitter
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	started  time.Time
	base     int64
	lastEmit time.Time
}

func newProgressReporter(emit Emitter, interval time.Duration) *progressReporter {
	return &progressReporter{emit: emit, interval: interval, now: time.Now}
}

// begin resets the speed baseline; base is the byte count already on disk
func (r *progressReporter) begin(base int64) {
	r.mu.Lock()
	r.started = r.now()
	r.base = base
	r.lastEmit = time.Time{}
	r.mu.Unlock()
}

// update reports downloaded of total bytes; total <= 0 means unknown.
// Calls within the interval are dropped unless force is set.
func (r *progressReporter) update(downloaded, total int64, force bool) {
	r.mu.Lock()
	now := r.now()
	if !force && !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastEmit = now

	var speed float64
	if elapsed := now.Sub(r.started).Seconds(); elapsed > 0 && downloaded > r.base {
		speed = float64(downloaded-r.base) / elapsed
	}
	r.mu.Unlock()

	r.emit.Progress(progressDelta(downloaded, total, speed))
}

func progressDelta(downloaded, total int64, speed float64) models.ProgressDelta {
	delta := models.ProgressDelta{
		Downloaded: models.String(formatBytes(downloaded)),
	}
	if speed > 0 {
		delta.Speed = models.String(formatBytes(int64(speed)) + "/s")
	}
	if total > 0 {
		delta.Total = models.String(formatBytes(total))
		delta.Percent = models.Float64(float64(downloaded) / float64(total) * 100)
		if speed > 0 && total > downloaded {
			remaining := time.Duration(float64(total-downloaded)/speed) * time.Second
			delta.ETA = models.String(formatETA(remaining))
		}
	}
	return delta
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
