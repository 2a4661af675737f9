package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"mp3pipeline/internal/dispatcher"
	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/store"
)

// Handlers contains the HTTP handlers for the submit/status API.
type Handlers struct {
	store     store.Store
	dispatch  dispatcher.Enqueuer
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st store.Store, dispatch dispatcher.Enqueuer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:     st,
		dispatch:  dispatch,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SubmitJob handles POST /jobs: creates a single job for video_url and
// kicks off the Dispatcher in the background, returning immediately with
// the job id and status URL per spec §6.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	job := &domain.Job{VideoURL: req.VideoURL}
	if err := h.store.Create(r.Context(), job); err != nil {
		h.logger.Error("failed to create job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.dispatchAsync(job.ID)

	h.logger.Info("job submitted", "job_id", job.ID)
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:     job.ID,
		StatusURL: fmt.Sprintf("/jobs/%s", job.ID),
	})
}

// SubmitBatch handles POST /batches: creates one job per video_url under
// a shared batch id, dispatching each independently.
func (h *Handlers) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	batchID := uuid.NewString()
	if err := h.store.CreateBatch(r.Context(), domain.Batch{ID: batchID}); err != nil {
		h.logger.Error("failed to create batch", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create batch", "BATCH_CREATION_FAILED")
		return
	}

	resp := SubmitBatchResponse{BatchID: batchID, Jobs: make([]SubmitJobResponse, 0, len(req.VideoURLs))}
	for _, url := range req.VideoURLs {
		job := &domain.Job{VideoURL: url, BatchID: batchID}
		if err := h.store.Create(r.Context(), job); err != nil {
			h.logger.Error("failed to create batch member job", "video_url", url, "error", err)
			continue
		}
		resp.Jobs = append(resp.Jobs, SubmitJobResponse{
			JobID:     job.ID,
			StatusURL: fmt.Sprintf("/jobs/%s", job.ID),
		})
		h.dispatchAsync(job.ID)
	}

	h.logger.Info("batch submitted", "batch_id", resp.BatchID, "job_count", len(resp.Jobs))
	writeJSON(w, http.StatusAccepted, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	job, err := h.store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse(job))
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_BATCH_ID")
		return
	}

	jobs, err := h.store.JobsByBatch(r.Context(), batchID)
	if err != nil {
		h.logger.Error("failed to get batch jobs", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get batch", "BATCH_FETCH_FAILED")
		return
	}
	if len(jobs) == 0 {
		writeError(w, http.StatusNotFound, "batch not found", "BATCH_NOT_FOUND")
		return
	}

	resp := BatchStatusResponse{
		BatchID: batchID,
		Status:  string(domain.DeriveBatchStatus(jobs)),
		Jobs:    make([]JobStatusResponse, 0, len(jobs)),
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobStatusResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispatchAsync invokes the Dispatcher on a detached context so a slow or
// cancelled HTTP request never aborts job processing.
func (h *Handlers) dispatchAsync(jobID string) {
	go h.dispatch.Dispatch(context.Background(), jobID)
}

func jobStatusResponse(job *domain.Job) JobStatusResponse {
	return JobStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Mp3URL:       job.Mp3URL,
		ErrorMessage: job.ErrorMessage,
		Progress:     domain.Progress(job.Status),
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
