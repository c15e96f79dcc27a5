package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mydiary/ai-service/internal/domain"
)

type submitJobRequest struct {
	InputText string `json:"input_text"`
}

type jobView struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	DerivedPrompt string `json:"derived_prompt,omitempty"`
	ResultURL     string `json:"result_url,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// SubmitJob accepts a diary entry, records it as a queued job and hands the
// id to the queue. The response carries the handle the client polls with;
// no pipeline work happens on this path.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "unprocessable", "invalid payload")
		return
	}
	if strings.TrimSpace(req.InputText) == "" {
		a.error(w, http.StatusUnprocessableEntity, "unprocessable", "input_text must not be blank")
		return
	}

	job := &domain.Job{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    domain.JobStatusQueued,
		InputText: req.InputText,
	}
	if err := a.Repo.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to create job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		return
	}
	if err := a.Queue.Push(r.Context(), job.ID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to enqueue job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		return
	}

	a.json(w, http.StatusOK, jobView{JobID: job.ID, Status: string(job.Status)})
}

// JobStatus returns the current view of a job. Derived fields are omitted
// until the pipeline has produced them.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	job, err := a.Repo.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobView{
		JobID:         job.ID,
		Status:        string(job.Status),
		DerivedPrompt: job.DerivedPrompt,
		ResultURL:     job.ResultURL,
		ErrorMessage:  job.ErrorMessage,
	})
}
