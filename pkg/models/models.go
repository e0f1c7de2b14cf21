package models

import (
	"strings"
	"time"
)

type State string

const (
	StateQueued      State = "queued"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateFinalizing  State = "finalizing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
	StateCancelled   State = "cancelled"
)

// IsActive reports whether a job in this state holds a capacity slot.
func (s State) IsActive() bool {
	switch s {
	case StateStarting, StateRunning, StateFinalizing:
		return true
	}
	return false
}

// IsTerminal reports whether no further executor events apply.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

const (
	FormatVideo = "video"
	FormatAudio = "audio"
)

type Target struct {
	URL    string `json:"url" yaml:"url"`
	Format string `json:"format" yaml:"format"`
	Site   string `json:"site,omitempty" yaml:"site,omitempty"`
}

// Normalize fills defaults and trims whitespace.
func (t Target) Normalize() Target {
	t.URL = strings.TrimSpace(t.URL)
	t.Format = strings.ToLower(strings.TrimSpace(t.Format))
	if t.Format == "" {
		t.Format = FormatVideo
	}
	t.Site = strings.ToLower(strings.TrimSpace(t.Site))
	return t
}

// SameAs reports whether two targets would download the same thing.
func (t Target) SameAs(other Target) bool {
	return t.URL == other.URL && t.Format == other.Format
}

type Progress struct {
	Percent    float64 `json:"percent"`
	Speed      string  `json:"speed"`
	ETA        string  `json:"eta"`
	Downloaded string  `json:"downloaded"`
	Total      string  `json:"total"`
}

// ProgressDelta carries only the fields an executor wants to change.
type ProgressDelta struct {
	Percent    *float64 `json:"percent,omitempty"`
	Speed      *string  `json:"speed,omitempty"`
	ETA        *string  `json:"eta,omitempty"`
	Downloaded *string  `json:"downloaded,omitempty"`
	Total      *string  `json:"total,omitempty"`
}

// Apply merges the delta into p, clamping the percentage to 0..100.
func (d ProgressDelta) Apply(p Progress) Progress {
	if d.Percent != nil {
		pct := *d.Percent
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		p.Percent = pct
	}
	if d.Speed != nil {
		p.Speed = *d.Speed
	}
	if d.ETA != nil {
		p.ETA = *d.ETA
	}
	if d.Downloaded != nil {
		p.Downloaded = *d.Downloaded
	}
	if d.Total != nil {
		p.Total = *d.Total
	}
	return p
}

// Merge combines two deltas, later fields winning.
func (d ProgressDelta) Merge(later ProgressDelta) ProgressDelta {
	if later.Percent != nil {
		d.Percent = later.Percent
	}
	if later.Speed != nil {
		d.Speed = later.Speed
	}
	if later.ETA != nil {
		d.ETA = later.ETA
	}
	if later.Downloaded != nil {
		d.Downloaded = later.Downloaded
	}
	if later.Total != nil {
		d.Total = later.Total
	}
	return d
}

// IsEmpty reports whether the delta changes nothing.
func (d ProgressDelta) IsEmpty() bool {
	return d.Percent == nil && d.Speed == nil && d.ETA == nil && d.Downloaded == nil && d.Total == nil
}

type Result struct {
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MediaInfo is what an executor learns about the media while downloading
type MediaInfo struct {
	Title     string `json:"title,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (i MediaInfo) IsEmpty() bool {
	return i.Title == "" && i.Thumbnail == ""
}

type Job struct {
	ID            string     `json:"id"`
	Target        Target     `json:"target"`
	Title         string     `json:"title,omitempty"`
	Thumbnail     string     `json:"thumbnail,omitempty"`
	State         State      `json:"state"`
	Progress      Progress   `json:"progress"`
	QueuePosition int        `json:"queue_position,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (j *Job) Clone() Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// ApplyInfo fills the media fields from info. Empty fields are left alone
// and reports whether anything changed.
func (j *Job) ApplyInfo(info MediaInfo) bool {
	changed := false
	if info.Title != "" && info.Title != j.Title {
		j.Title = info.Title
		changed = true
	}
	if info.Thumbnail != "" && info.Thumbnail != j.Thumbnail {
		j.Thumbnail = info.Thumbnail
		changed = true
	}
	return changed
}

// DisplayName is the title when known and the URL otherwise
func (j *Job) DisplayName() string {
	if j.Title != "" {
		return j.Title
	}
	return j.Target.URL
}

// Float64 returns a pointer to v for building deltas.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v for building deltas.
func String(v string) *string { return &v }
