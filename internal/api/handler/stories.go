package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/storymill/storymill/internal/api/response"
	"github.com/storymill/storymill/internal/store"
	"github.com/storymill/storymill/pkg/models"
)

// StoryStore defines the story operations the handlers depend on.
type StoryStore interface {
	ListStories(ctx context.Context, filter store.StoryFilter) ([]*models.Story, int, error)
	GetStory(ctx context.Context, id uuid.UUID) (*models.Story, error)
	UpdateStoryStatus(ctx context.Context, id uuid.UUID, status string) error
}

// NewListStoriesHandler returns an http.HandlerFunc for GET /api/v1/stories.
func NewListStoriesHandler(st StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !models.ValidStoryStatus(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown story status", map[string]string{"status": status})
			return
		}

		page, limit := parsePagination(r)

		stories, total, err := st.ListStories(r.Context(), store.StoryFilter{
			Status: status,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list stories", nil)
			return
		}

		response.Collection(w, stories, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetStoryHandler returns an http.HandlerFunc for GET /api/v1/stories/{storyID}.
func NewGetStoryHandler(st StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storyID, err := uuid.Parse(chi.URLParam(r, "storyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "storyID must be a valid UUID", nil)
			return
		}

		story, err := st.GetStory(r.Context(), storyID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "STORY_NOT_FOUND", "No story with that ID", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load story", nil)
			return
		}

		response.JSON(w, story)
	}
}

// NewStoryStatusHandler returns an http.HandlerFunc for
// PATCH /api/v1/stories/{storyID}/status. Transitions follow the story
// lifecycle; anything else is a 409.
func NewStoryStatusHandler(st StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storyID, err := uuid.Parse(chi.URLParam(r, "storyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "storyID must be a valid UUID", nil)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if !models.ValidStoryStatus(req.Status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown story status", map[string]string{"status": req.Status})
			return
		}

		if err := st.UpdateStoryStatus(r.Context(), storyID, req.Status); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "STORY_NOT_FOUND", "No story with that ID", nil)
			case errors.Is(err, store.ErrInvalidTransition):
				response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update story status", nil)
			}
			return
		}

		story, err := st.GetStory(r.Context(), storyID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load story", nil)
			return
		}

		response.JSON(w, story)
	}
}

// parsePagination reads page/limit query params with the store's defaults.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 20

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
