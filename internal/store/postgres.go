package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id                 TEXT PRIMARY KEY,
	model_id           TEXT NOT NULL,
	prompt             TEXT NOT NULL,
	source             TEXT NOT NULL DEFAULT 'api',
	prompt_template_id TEXT NOT NULL DEFAULT '',
	params             JSONB NOT NULL DEFAULT '{}',
	image_ids          JSONB NOT NULL DEFAULT '[]',
	image_paths        JSONB NOT NULL DEFAULT '[]',
	task_id            TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	message            TEXT NOT NULL DEFAULT '',
	output_url         TEXT NOT NULL DEFAULT '',
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_model ON generation_jobs(model_id, created_at);
CREATE TABLE IF NOT EXISTS models (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS model_images (
	id         TEXT PRIMARY KEY,
	model_id   TEXT NOT NULL REFERENCES models(id),
	filename   TEXT NOT NULL,
	rel_path   TEXT NOT NULL,
	width      INTEGER NOT NULL DEFAULT 0,
	height     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_images_model ON model_images(model_id, created_at);
`

// PostgresStore は JobStore と ModelStore の PostgreSQL 実装です。
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore は接続プールを作成し、スキーマを初期化します。
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close は接続プールを閉じます。
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateJob はジョブを新規作成します。IDが重複する場合は ErrDuplicate を返します。
func (s *PostgresStore) CreateJob(ctx context.Context, job *GenerationJob) error {
	imageIDs, imagePaths, params := encodeJobJSON(job)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_jobs (
			id, model_id, prompt, source, prompt_template_id, params,
			image_ids, image_paths, task_id, status, progress, message,
			output_url, error_code, error_message, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		job.ID, job.ModelID, job.Prompt, job.Source, job.PromptTemplateID, params,
		imageIDs, imagePaths, job.TaskID, string(job.Status), job.Progress, job.Message,
		job.OutputURL, job.ErrorCode, job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob はジョブの可変フィールドを更新します。
func (s *PostgresStore) UpdateJob(ctx context.Context, job *GenerationJob) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET task_id = $2,
			status = $3,
			progress = $4,
			message = $5,
			output_url = $6,
			error_code = $7,
			error_message = $8,
			updated_at = $9
		WHERE id = $1
	`, job.ID, job.TaskID, string(job.Status), job.Progress, job.Message,
		job.OutputURL, job.ErrorCode, job.ErrorMessage, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob はジョブを1件取得します。
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*GenerationJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model_id, prompt, source, prompt_template_id, params,
			image_ids, image_paths, task_id, status, progress, message,
			output_url, error_code, error_message, created_at, updated_at
		FROM generation_jobs
		WHERE id = $1
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs は条件に合致するジョブを新しい順に返します。
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*GenerationJob, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ModelID != "" {
		args = append(args, filter.ModelID)
		where = append(where, fmt.Sprintf("model_id = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `
		SELECT id, model_id, prompt, source, prompt_template_id, params,
			image_ids, image_paths, task_id, status, progress, message,
			output_url, error_code, error_message, created_at, updated_at
		FROM generation_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, maxInt(filter.Offset, 0))
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CreateModel はモデルを作成します。IDが重複する場合は ErrDuplicate を返します。
func (s *PostgresStore) CreateModel(ctx context.Context, model *Model) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO models (id, display_name, created_at) VALUES ($1,$2,$3)
	`, model.ID, model.DisplayName, model.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// GetModel はモデルを1件取得します。
func (s *PostgresStore) GetModel(ctx context.Context, modelID string) (*Model, error) {
	var model Model
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, created_at FROM models WHERE id = $1
	`, modelID).Scan(&model.ID, &model.DisplayName, &model.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query model: %w", err)
	}
	return &model, nil
}

// ListModels はモデルを新しい順に返します。
func (s *PostgresStore) ListModels(ctx context.Context) ([]*Model, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, created_at FROM models ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		var model Model
		if err := rows.Scan(&model.ID, &model.DisplayName, &model.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, &model)
	}
	return models, rows.Err()
}

// ListModelImages はモデルに属する参照画像を登録順に返します。
func (s *PostgresStore) ListModelImages(ctx context.Context, modelID string) ([]*ModelImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model_id, filename, rel_path, width, height, created_at
		FROM model_images
		WHERE model_id = $1
		ORDER BY created_at ASC
	`, modelID)
	if err != nil {
		return nil, fmt.Errorf("list model images: %w", err)
	}
	defer rows.Close()

	var images []*ModelImage
	for rows.Next() {
		var image ModelImage
		if err := rows.Scan(&image.ID, &image.ModelID, &image.Filename, &image.RelPath,
			&image.Width, &image.Height, &image.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model image: %w", err)
		}
		images = append(images, &image)
	}
	return images, rows.Err()
}

// AddModelImage は参照画像レコードを追加します。
func (s *PostgresStore) AddModelImage(ctx context.Context, image *ModelImage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_images (id, model_id, filename, rel_path, width, height, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, image.ID, image.ModelID, image.Filename, image.RelPath, image.Width, image.Height, image.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert model image: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*GenerationJob, error) {
	var (
		job        GenerationJob
		status     string
		params     []byte
		imageIDs   []byte
		imagePaths []byte
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(
		&job.ID, &job.ModelID, &job.Prompt, &job.Source, &job.PromptTemplateID, &params,
		&imageIDs, &imagePaths, &job.TaskID, &status, &job.Progress, &job.Message,
		&job.OutputURL, &job.ErrorCode, &job.ErrorMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Params = json.RawMessage(params)
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = updatedAt.UTC()
	if err := json.Unmarshal(imageIDs, &job.ImageIDs); err != nil {
		return nil, fmt.Errorf("decode image_ids: %w", err)
	}
	if err := json.Unmarshal(imagePaths, &job.ImagePaths); err != nil {
		return nil, fmt.Errorf("decode image_paths: %w", err)
	}
	return &job, nil
}

func encodeJobJSON(job *GenerationJob) (imageIDs, imagePaths, params []byte) {
	imageIDs = encodeStrings(job.ImageIDs)
	imagePaths = encodeStrings(job.ImagePaths)
	params = job.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	return imageIDs, imagePaths, params
}

func encodeStrings(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return []byte("[]")
	}
	return data
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
