package api

import (
	"time"

	"dlqueue/internal/queue"
	"dlqueue/pkg/models"
)

// SubmitRequest is the body of POST /api/downloads
type SubmitRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	Site   string `json:"site,omitempty"`
}

// JobResponse acknowledges a submit or resume
type JobResponse struct {
	JobID         string       `json:"job_id"`
	State         models.State `json:"state"`
	QueuePosition int          `json:"queue_position,omitempty"`
}

// ErrorResponse is the body of every failed request. JobID names the
// existing job when a duplicate was rejected.
type ErrorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}

// CountResponse reports how many jobs a bulk delete removed
type CountResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	Uptime        string                  `json:"uptime"`
	StartedAt     time.Time               `json:"started_at"`
	ActiveCount   int                     `json:"active_count"`
	QueuedCount   int                     `json:"queued_count"`
	MaxConcurrent int                     `json:"max_concurrent"`
	Notifications queue.BrokerStats       `json:"notifications"`
	Persistence   queue.PersistenceStatus `json:"persistence"`
}

func jobResponse(job models.Job) JobResponse {
	return JobResponse{JobID: job.ID, State: job.State, QueuePosition: job.QueuePosition}
}
