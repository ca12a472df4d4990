package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storymill/storymill/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Stories ---

// UpsertStory inserts a story keyed on its signature. A story from a later
// run with the same signature lands on the existing row: title, description,
// code context, and evidence are rebuilt from the latest cluster while the
// triage status and created_at survive. This is how evidence accumulates on
// one story across runs instead of fragmenting into near-duplicates.
func (s *PostgresStore) UpsertStory(ctx context.Context, story *models.Story) (*models.Story, error) {
	evidence, err := json.Marshal(story.Evidence)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	var codeContext []byte
	if story.CodeContext != nil {
		codeContext, err = json.Marshal(story.CodeContext)
		if err != nil {
			return nil, fmt.Errorf("marshal code context: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO stories (id, signature, title, description, code_context, evidence, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (signature) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   code_context = EXCLUDED.code_context,
		   evidence = EXCLUDED.evidence,
		   updated_at = NOW()
		 RETURNING id, signature, title, description, code_context, evidence, status, created_at, updated_at`,
		story.ID, story.Signature, story.Title, story.Description, codeContext, evidence, story.Status)

	result, err := scanStoryRow(row)
	if err != nil {
		return nil, fmt.Errorf("upsert story: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) ListStories(ctx context.Context, filter StoryFilter) ([]*models.Story, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM stories WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stories: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT id, signature, title, description, code_context, evidence, status, created_at, updated_at
		 FROM stories WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		story, err := scanStoryRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, story)
	}
	return stories, total, rows.Err()
}

func (s *PostgresStore) GetStory(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, signature, title, description, code_context, evidence, status, created_at, updated_at
		 FROM stories WHERE id = $1`, id)
	story, err := scanStoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return story, nil
}

func (s *PostgresStore) GetStoryBySignature(ctx context.Context, signature string) (*models.Story, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, signature, title, description, code_context, evidence, status, created_at, updated_at
		 FROM stories WHERE signature = $1`, signature)
	story, err := scanStoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story by signature: %w", err)
	}
	return story, nil
}

func (s *PostgresStore) UpdateStoryStatus(ctx context.Context, id uuid.UUID, status string) error {
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM stories WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get story status: %w", err)
	}

	if !models.ValidStoryTransition(currentStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE stories SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update story status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoryRow(row rowScanner) (*models.Story, error) {
	var story models.Story
	var codeContext, evidence []byte
	if err := row.Scan(&story.ID, &story.Signature, &story.Title, &story.Description,
		&codeContext, &evidence, &story.Status, &story.CreatedAt, &story.UpdatedAt); err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &story.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	if len(codeContext) > 0 {
		story.CodeContext = &models.CodeContext{}
		if err := json.Unmarshal(codeContext, story.CodeContext); err != nil {
			return nil, fmt.Errorf("unmarshal code context: %w", err)
		}
	}
	return &story, nil
}

// --- Pipeline Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, phase, window_start, window_end,
		   records_seen, records_filtered, clusters_built, clusters_split, clusters_rejected,
		   stories_created, orphans_created, warnings, error_message, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.Phase, run.WindowStart, run.WindowEnd,
		run.Counters.RecordsSeen, run.Counters.RecordsFiltered, run.Counters.ClustersBuilt,
		run.Counters.ClustersSplit, run.Counters.ClustersRejected,
		run.Counters.StoriesCreated, run.Counters.OrphansCreated,
		warnings, nullableString(run.Error), run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.PipelineRun) error {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET phase = $2,
		   records_seen = $3, records_filtered = $4, clusters_built = $5,
		   clusters_split = $6, clusters_rejected = $7, stories_created = $8,
		   orphans_created = $9, warnings = $10, error_message = $11, finished_at = $12
		 WHERE id = $1`,
		run.ID, run.Phase,
		run.Counters.RecordsSeen, run.Counters.RecordsFiltered, run.Counters.ClustersBuilt,
		run.Counters.ClustersSplit, run.Counters.ClustersRejected,
		run.Counters.StoriesCreated, run.Counters.OrphansCreated,
		warnings, nullableString(run.Error), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, phase, window_start, window_end,
		   records_seen, records_filtered, clusters_built, clusters_split, clusters_rejected,
		   stories_created, orphans_created, warnings, error_message, started_at, finished_at
		 FROM pipeline_runs WHERE id = $1`, id)
	run, err := scanRunRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, page, limit int) ([]*models.PipelineRun, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT id, phase, window_start, window_end,
		   records_seen, records_filtered, clusters_built, clusters_split, clusters_rejected,
		   stories_created, orphans_created, warnings, error_message, started_at, finished_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func scanRunRow(row rowScanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var warnings []byte
	var errMsg *string
	if err := row.Scan(&run.ID, &run.Phase, &run.WindowStart, &run.WindowEnd,
		&run.Counters.RecordsSeen, &run.Counters.RecordsFiltered, &run.Counters.ClustersBuilt,
		&run.Counters.ClustersSplit, &run.Counters.ClustersRejected,
		&run.Counters.StoriesCreated, &run.Counters.OrphansCreated,
		&warnings, &errMsg, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &run.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
