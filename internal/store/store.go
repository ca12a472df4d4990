package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/storymill/storymill/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	UpsertStory(ctx context.Context, story *models.Story) (*models.Story, error)
	ListStories(ctx context.Context, filter StoryFilter) ([]*models.Story, int, error)
	GetStory(ctx context.Context, id uuid.UUID) (*models.Story, error)
	GetStoryBySignature(ctx context.Context, signature string) (*models.Story, error)
	UpdateStoryStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateRun(ctx context.Context, run *models.PipelineRun) error
	UpdateRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, page, limit int) ([]*models.PipelineRun, int, error)
}

type StoryFilter struct {
	Status string
	Page   int
	Limit  int
}
