package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/storymill/storymill/internal/api/response"
	"github.com/storymill/storymill/internal/store"
	"github.com/storymill/storymill/pkg/models"
)

// RunService defines the pipeline operations the run handlers depend on.
type RunService interface {
	StartRun(ctx context.Context, windowStart, windowEnd time.Time) (models.PipelineRun, error)
	RunStatus(ctx context.Context, runID uuid.UUID) (models.PipelineRun, error)
	StopRun(runID uuid.UUID) bool
}

// RunLister lists persisted runs for the history endpoint.
type RunLister interface {
	ListRuns(ctx context.Context, page, limit int) ([]*models.PipelineRun, int, error)
}

// NewStartRunHandler returns an http.HandlerFunc for POST /api/v1/runs.
// The window defaults to the last 24 hours when the body omits it.
func NewStartRunHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WindowStart string `json:"window_start"`
			WindowEnd   string `json:"window_end"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		end := time.Now().UTC()
		if req.WindowEnd != "" {
			t, err := time.Parse(time.RFC3339, req.WindowEnd)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "window_end must be a valid RFC3339 timestamp", nil)
				return
			}
			end = t
		}

		start := end.Add(-24 * time.Hour)
		if req.WindowStart != "" {
			t, err := time.Parse(time.RFC3339, req.WindowStart)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "window_start must be a valid RFC3339 timestamp", nil)
				return
			}
			start = t
		}

		if !end.After(start) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "window_end must be after window_start", nil)
			return
		}

		run, err := svc.StartRun(r.Context(), start, end)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start pipeline run", nil)
			return
		}

		response.Accepted(w, run)
	}
}

// NewRunStatusHandler returns an http.HandlerFunc for GET /api/v1/runs/{runID}.
func NewRunStatusHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "runID must be a valid UUID", nil)
			return
		}

		run, err := svc.RunStatus(r.Context(), runID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RUN_NOT_FOUND", "No run with that ID", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load run", nil)
			return
		}

		response.JSON(w, run)
	}
}

// NewStopRunHandler returns an http.HandlerFunc for POST /api/v1/runs/{runID}/stop.
// The stop is cooperative: the run observes it at its next stage boundary, so
// the response is 202 rather than a terminal state.
func NewStopRunHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "runID must be a valid UUID", nil)
			return
		}

		if !svc.StopRun(runID) {
			response.Error(w, http.StatusNotFound, "RUN_NOT_FOUND", "No active run with that ID", nil)
			return
		}

		response.Accepted(w, map[string]string{
			"run_id": runID.String(),
			"status": "stop_requested",
		})
	}
}

// NewListRunsHandler returns an http.HandlerFunc for GET /api/v1/runs.
func NewListRunsHandler(st RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := parsePagination(r)

		runs, total, err := st.ListRuns(r.Context(), page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs", nil)
			return
		}

		response.Collection(w, runs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}
