package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"dlqueue/internal/queue"
	apperrors "dlqueue/pkg/errors"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var dup *queue.DuplicateError
	if errors.As(err, &dup) {
		resp.JobID = dup.Existing.ID
	}

	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, resp)
}

// Submit handles POST /api/downloads
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, apperrors.Wrap(apperrors.ErrInvalidTarget, err))
		return
	}

	job, err := s.queue.Submit(models.Target{URL: req.URL, Format: req.Format, Site: req.Site})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

// Status handles GET /api/downloads
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

// GetJob handles GET /api/downloads/{id}
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetProgress handles GET /api/downloads/{id}/progress
func (s *Server) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.queue.Progress(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Cancel handles DELETE /api/downloads/{id}
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Cancel(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ClearCompleted handles DELETE /api/completed
func (s *Server) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{Removed: s.queue.ClearCompleted()})
}

// DeleteInterrupted handles DELETE /api/incomplete/{id}
func (s *Server) DeleteInterrupted(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.DeleteInterrupted(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Removed: 1})
}

// DeleteAllInterrupted handles DELETE /api/incomplete
func (s *Server) DeleteAllInterrupted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{Removed: s.queue.DeleteAllInterrupted()})
}

// Resume handles POST /api/incomplete/{id}/resume
func (s *Server) Resume(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Resume(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

// Health handles GET /api/health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Status()
	persist := s.queue.Persistence()
	status := "ok"
	if persist.Failures > 0 {
		// downloads keep running; only the on-disk state lags behind
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       logger.Version,
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		StartedAt:     s.startedAt.UTC(),
		ActiveCount:   st.ActiveCount,
		QueuedCount:   st.QueuedCount,
		MaxConcurrent: st.MaxConcurrent,
		Notifications: s.queue.Stats(),
		Persistence:   persist,
	})
}
