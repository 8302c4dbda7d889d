package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"outcome-engine/internal/domain"
	"outcome-engine/internal/engine"
	"outcome-engine/internal/middleware"
)

type createJobRequest struct {
	StepID string `json:"step_id"`
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

// OutcomeJobCreate admits a new outcome-generation job for a session.
// Precondition failures return synchronously without creating a job.
func (a *App) OutcomeJobCreate(w http.ResponseWriter, r *http.Request) {
	projectID := projectIDFrom(r)
	if projectID == "" {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "project id is required")
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	jobID, err := a.Intake.Create(r.Context(), engine.CreateRequest{
		ProjectID: projectID,
		SessionID: sessionID,
		StepID:    req.StepID,
		EventContext: domain.EventContext{
			Locale:  middleware.LocaleFromContext(r.Context()),
			Country: middleware.CountryFromContext(r.Context()),
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		case errors.Is(err, domain.ErrJobInProgress):
			a.error(w, http.StatusConflict, "JOB_IN_PROGRESS", "a job is already in progress for this session")
		case errors.Is(err, domain.ErrOutcomeNotConfigured):
			a.error(w, http.StatusNotFound, "TRANSFORM_NOT_FOUND", "no outcome is configured for this experience")
		case errors.Is(err, domain.ErrOutcomeMisconfigured):
			a.error(w, http.StatusUnprocessableEntity, "INVALID_INPUT", "the configured outcome is invalid")
		default:
			a.Logger.Error().Err(err).Str("session_id", sessionID).Msg("http: job admission failed")
			a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create job")
		}
		return
	}
	a.json(w, http.StatusAccepted, createJobResponse{JobID: jobID})
}

// OutcomeJobStatus returns the monitoring view of a job document. The
// snapshot is deliberately omitted: it carries prompt templates and storage
// paths that never leave the operator surface.
func (a *App) OutcomeJobStatus(w http.ResponseWriter, r *http.Request) {
	projectID := projectIDFrom(r)
	if projectID == "" {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "project id is required")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), projectID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "NOT_FOUND", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: load job failed")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":           job.ID,
		"session_id":   job.SessionID,
		"status":       job.Status,
		"progress":     job.Progress,
		"output":       job.Output,
		"error":        job.Error,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
	})
}

// OutcomeJobCancel moves a pending or running job to cancelled. The worker
// observes the transition cooperatively; a terminal job cannot be
// cancelled.
func (a *App) OutcomeJobCancel(w http.ResponseWriter, r *http.Request) {
	projectID := projectIDFrom(r)
	if projectID == "" {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST", "project id is required")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.GetByID(r.Context(), projectID, jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "NOT_FOUND", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: load job failed")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load job")
		return
	}
	if err := a.Jobs.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusConflict, "NOT_CANCELLABLE", "job already finished")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: cancel job failed")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to cancel job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func projectIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Project-ID"))
}
