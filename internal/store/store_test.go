package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storymill/storymill/internal/store"
	"github.com/storymill/storymill/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storymill_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newStory(signature string) *models.Story {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Story{
		ID:          uuid.New(),
		Signature:   signature,
		Title:       "Export drops rows past 10k",
		Description: "Reported in 2 conversations.",
		Evidence: models.EvidenceBundle{
			{RecordID: "r-001", Excerpt: "csv export cuts off at 10000 rows"},
			{RecordID: "r-002", Excerpt: "large exports are incomplete"},
		},
		Status:    models.StoryStatusCandidate,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newRun() *models.PipelineRun {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.PipelineRun{
		ID:          uuid.New(),
		Phase:       models.PhasePending,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
		StartedAt:   now,
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sm_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	// Get by prefix
	keys, err := s.GetAPIKeyByPrefix(ctx, "sm_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		err := s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			Name:      "key-" + uuid.NewString()[:4],
			KeyHash:   "hash-" + uuid.NewString()[:4],
			KeyPrefix: "sm_" + uuid.NewString()[:4],
			Scopes:    []string{"read"},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "sm_revk",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	// Revoke
	err := s.RevokeAPIKey(ctx, key.ID)
	require.NoError(t, err)

	// Should not appear in list or prefix lookup
	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "sm_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.RevokeAPIKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "usage-key",
		KeyHash:   "hash",
		KeyPrefix: "sm_used",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.UpdateAPIKeyLastUsed(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "sm_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, Name: "dup1", KeyHash: "h1", KeyPrefix: "sm_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, Name: "dup2", KeyHash: "h2", KeyPrefix: "sm_dup2",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	err := s.CreateAPIKey(ctx, key2)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Story Tests ---

func TestStory_UpsertInsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-insert")
	result, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)
	assert.Equal(t, story.ID, result.ID)
	assert.Equal(t, models.StoryStatusCandidate, result.Status)
	assert.Len(t, result.Evidence, 2)
	assert.Nil(t, result.CodeContext)
}

func TestStory_UpsertMerge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	first := newStory("sig-merge")
	_, err := s.UpsertStory(ctx, first)
	require.NoError(t, err)

	// Triage it, then upsert the same signature from a later run.
	require.NoError(t, s.UpdateStoryStatus(ctx, first.ID, models.StoryStatusTriaged))

	second := newStory("sig-merge")
	second.Title = "Export drops rows past 10k (fresh evidence)"
	second.Evidence = append(second.Evidence, models.EvidenceItem{
		RecordID: "r-003", Excerpt: "export still broken for big files",
	})
	result, err := s.UpsertStory(ctx, second)
	require.NoError(t, err)

	// Same row: original ID and triage status survive, content refreshes.
	assert.Equal(t, first.ID, result.ID)
	assert.Equal(t, models.StoryStatusTriaged, result.Status)
	assert.Equal(t, second.Title, result.Title)
	assert.Len(t, result.Evidence, 3)
}

func TestStory_UpsertWithCodeContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-code")
	story.CodeContext = &models.CodeContext{
		Topic: "csv export rows",
		Refs: []models.CodeRef{
			{FilePath: "internal/export/csv.go", Note: "row limit constant"},
		},
	}
	result, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)
	require.NotNil(t, result.CodeContext)
	assert.Equal(t, "csv export rows", result.CodeContext.Topic)
	require.Len(t, result.CodeContext.Refs, 1)
	assert.Equal(t, "internal/export/csv.go", result.CodeContext.Refs[0].FilePath)
}

func TestStory_GetByID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-get")
	_, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)

	got, err := s.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.ID, got.ID)
	assert.Equal(t, "sig-get", got.Signature)
}

func TestStory_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetStory(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStory_GetBySignature(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-lookup")
	_, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)

	got, err := s.GetStoryBySignature(ctx, "sig-lookup")
	require.NoError(t, err)
	assert.Equal(t, story.ID, got.ID)

	_, err = s.GetStoryBySignature(ctx, "sig-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStory_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.UpsertStory(ctx, newStory("sig-list-"+uuid.NewString()[:8]))
		require.NoError(t, err)
	}

	stories, total, err := s.ListStories(ctx, store.StoryFilter{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, stories, 3)
}

func TestStory_ListFilterByStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	kept := newStory("sig-status-a")
	_, err := s.UpsertStory(ctx, kept)
	require.NoError(t, err)

	triaged := newStory("sig-status-b")
	_, err = s.UpsertStory(ctx, triaged)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStoryStatus(ctx, triaged.ID, models.StoryStatusTriaged))

	stories, total, err := s.ListStories(ctx, store.StoryFilter{
		Status: models.StoryStatusTriaged, Page: 1, Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, stories, 1)
	assert.Equal(t, triaged.ID, stories[0].ID)
}

func TestStory_StatusLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-lifecycle")
	_, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStoryStatus(ctx, story.ID, models.StoryStatusTriaged))
	require.NoError(t, s.UpdateStoryStatus(ctx, story.ID, models.StoryStatusClosed))

	got, err := s.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StoryStatusClosed, got.Status)
}

func TestStory_StatusInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	story := newStory("sig-badmove")
	_, err := s.UpsertStory(ctx, story)
	require.NoError(t, err)

	// candidate -> closed skips triage
	err = s.UpdateStoryStatus(ctx, story.ID, models.StoryStatusClosed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestStory_StatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateStoryStatus(context.Background(), uuid.New(), models.StoryStatusTriaged)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Pipeline Run Tests ---

func TestRun_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun()
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePending, got.Phase)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Warnings)
}

func TestRun_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_UpdateTerminalState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun()
	require.NoError(t, s.CreateRun(ctx, run))

	finished := time.Now().UTC().Truncate(time.Microsecond)
	run.Phase = models.PhaseCompleted
	run.Counters = models.RunCounters{
		RecordsSeen:     120,
		RecordsFiltered: 18,
		ClustersBuilt:   9,
		StoriesCreated:  7,
		OrphansCreated:  2,
	}
	run.Warnings = []string{"fetch failure: record r-099: timeout"}
	run.FinishedAt = &finished
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, got.Phase)
	assert.Equal(t, 120, got.Counters.RecordsSeen)
	assert.Equal(t, 7, got.Counters.StoriesCreated)
	assert.Equal(t, []string{"fetch failure: record r-099: timeout"}, got.Warnings)
	require.NotNil(t, got.FinishedAt)
}

func TestRun_UpdateFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	run := newRun()
	require.NoError(t, s.CreateRun(ctx, run))

	finished := time.Now().UTC().Truncate(time.Microsecond)
	run.Phase = models.PhaseFailed
	run.Error = "fetching records: record source unreachable"
	run.FinishedAt = &finished
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, got.Phase)
	assert.Equal(t, "fetching records: record source unreachable", got.Error)
}

func TestRun_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.CreateRun(ctx, newRun()))
	}

	runs, total, err := s.ListRuns(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, runs, 3)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
