package queue

import (
	"time"

	"dlqueue/pkg/models"
)

// EventKind identifies what an executor is reporting
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventStage
	EventSucceeded
	EventFailed
	EventInfo
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventStage:
		return "stage"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventInfo:
		return "info"
	}
	return "unknown"
}

// Event is a message from an executor about one job
type Event struct {
	JobID   string
	Kind    EventKind
	Delta   models.ProgressDelta
	Stage   models.State
	Info    models.MediaInfo
	Payload string
	Err     string

	// merged counts the raw progress events folded into this one
	merged int
}

func ProgressEvent(jobID string, delta models.ProgressDelta) Event {
	return Event{JobID: jobID, Kind: EventProgress, Delta: delta}
}

func StageEvent(jobID string, stage models.State) Event {
	return Event{JobID: jobID, Kind: EventStage, Stage: stage}
}

func InfoEvent(jobID string, info models.MediaInfo) Event {
	return Event{JobID: jobID, Kind: EventInfo, Info: info}
}

func SucceededEvent(jobID, payload string) Event {
	return Event{JobID: jobID, Kind: EventSucceeded, Payload: payload}
}

func FailedEvent(jobID, msg string) Event {
	return Event{JobID: jobID, Kind: EventFailed, Err: msg}
}

// coalesce folds progress events of the same job into one while keeping
// every job's events in send order. Events of different jobs carry no
// ordering guarantee, so a later progress delta may move ahead of another
// job's event.
func coalesce(batch []Event) []Event {
	out := make([]Event, 0, len(batch))
	open := make(map[string]int)

	for _, ev := range batch {
		if ev.Kind == EventProgress {
			if i, ok := open[ev.JobID]; ok {
				out[i].Delta = out[i].Delta.Merge(ev.Delta)
				out[i].merged++
				continue
			}
			ev.merged = 1
			open[ev.JobID] = len(out)
			out = append(out, ev)
			continue
		}
		delete(open, ev.JobID)
		out = append(out, ev)
	}
	return out
}

// NotificationType names what happened to a job
type NotificationType string

const (
	NotifySubmitted   NotificationType = "submitted"
	NotifyAdmitted    NotificationType = "admitted"
	NotifyProgress    NotificationType = "progress"
	NotifyStage       NotificationType = "stage"
	NotifyInfo        NotificationType = "info"
	NotifyCompleted   NotificationType = "completed"
	NotifyFailed      NotificationType = "failed"
	NotifyInterrupted NotificationType = "interrupted"
	NotifyDiscarded   NotificationType = "discarded"
	NotifyCancelled   NotificationType = "cancelled"
	NotifyResumed     NotificationType = "resumed"
	NotifyDeleted     NotificationType = "deleted"
	NotifyCleared     NotificationType = "cleared"
	NotifyRecovered   NotificationType = "recovered"
)

// Notification is published to observers after a change is committed.
// Seq increases in the order changes were made to the registry and
// notifications are delivered in that order.
type Notification struct {
	Seq     uint64           `json:"seq"`
	Type    NotificationType `json:"type"`
	JobID   string           `json:"job_id,omitempty"`
	Job     *models.Job      `json:"job,omitempty"`
	Message string           `json:"message,omitempty"`
	Count   int              `json:"count,omitempty"`
	Time    time.Time        `json:"time"`
}
