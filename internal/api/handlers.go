package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/followup"
)

// CreateJobRequest is the request body for POST /jobs
type CreateJobRequest struct {
	ClientID     string     `json:"client_id"`
	ConferenceID string     `json:"conference_id"`
	TemplateID   string     `json:"template_id,omitempty"`
	Stage        string     `json:"stage"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

// JobResponse is the wire form of a follow-up job
type JobResponse struct {
	ID               string     `json:"id"`
	ClientID         string     `json:"client_id"`
	ConferenceID     string     `json:"conference_id"`
	TemplateID       string     `json:"template_id"`
	Stage            string     `json:"stage"`
	Status           string     `json:"status"`
	Paused           bool       `json:"paused"`
	PauseReason      string     `json:"pause_reason,omitempty"`
	CurrentAttempt   int        `json:"current_attempt"`
	MaxAttempts      int        `json:"max_attempts"`
	NextSendAt       time.Time  `json:"next_send_at"`
	LastSentAt       *time.Time `json:"last_sent_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletionReason string     `json:"completion_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func jobResponse(job *followup.Job) JobResponse {
	return JobResponse{
		ID:               job.ID,
		ClientID:         job.ClientID,
		ConferenceID:     job.ConferenceID,
		TemplateID:       job.TemplateID,
		Stage:            string(job.Stage),
		Status:           string(job.Status),
		Paused:           job.Paused,
		PauseReason:      job.PauseReason,
		CurrentAttempt:   job.CurrentAttempt,
		MaxAttempts:      job.MaxAttempts,
		NextSendAt:       job.NextSendAt,
		LastSentAt:       job.LastSentAt,
		LastError:        job.LastError,
		CompletedAt:      job.CompletedAt,
		CompletionReason: job.CompletionReason,
		CreatedAt:        job.CreatedAt,
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := s.engine.CreateJob(r.Context(), followup.CreateParams{
		ClientID:     req.ClientID,
		ConferenceID: req.ConferenceID,
		TemplateID:   req.TemplateID,
		Stage:        crm.Stage(req.Stage),
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		s.sendDomainError(w, err, "failed to create job")
		return
	}

	s.sendJSON(w, http.StatusCreated, jobResponse(job))
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := followup.ListFilter{
		Status:   followup.JobStatus(r.URL.Query().Get("status")),
		ClientID: r.URL.Query().Get("client_id"),
		Stage:    crm.Stage(r.URL.Query().Get("stage")),
		Limit:    100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	out := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = jobResponse(job)
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.sendJSON(w, http.StatusOK, jobResponse(job))
}

// handleJobStats handles GET /api/v1/jobs/stats
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get job stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get job stats")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// PauseRequest is the request body for POST /jobs/{id}/pause and cancel
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handlePauseJob handles POST /api/v1/jobs/{id}/pause
func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := s.engine.Pause(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		s.sendDomainError(w, err, "failed to pause job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeJob handles POST /api/v1/jobs/{id}/resume
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendDomainError(w, err, "failed to resume job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelJob handles POST /api/v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		s.sendDomainError(w, err, "failed to cancel job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// sendDomainError maps domain error types to HTTP statuses
func (s *Server) sendDomainError(w http.ResponseWriter, err error, logMsg string) {
	var verr *followup.ValidationError
	var nerr *followup.NotFoundError
	switch {
	case errors.As(err, &verr):
		s.sendError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nerr):
		s.sendError(w, http.StatusNotFound, nerr.Error())
	default:
		s.logger.Error(logMsg, "error", err)
		s.sendError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
