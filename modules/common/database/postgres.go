package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/model"
)

// PostgresStore writes generation records directly through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("✅ [DB] Connected to Postgres")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// upsertArgs turns a row into positional arguments; absent columns become NULL.
func upsertArgs(row map[string]interface{}) ([]interface{}, error) {
	var params interface{}
	if p, ok := row["input_params"]; ok {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode input_params: %w", err)
		}
		params = string(raw)
	}
	return []interface{}{
		row["task_id"],
		row["image_index"],
		row["user_id"],
		fmt.Sprint(row["status"]),
		nullable(row["image_url"]),
		nullable(row["model_type"]),
		nullable(row["gen_mode"]),
		nullable(row["prompt"]),
		nullable(row["task_type"]),
		nullable(row["input_image_url"]),
		params,
		nullable(row["error"]),
	}, nil
}

func nullable(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return fmt.Sprint(v)
}

const upsertGeneration = `
INSERT INTO generations (
    task_id, image_index, user_id, status, image_url, model_type, gen_mode, prompt, task_type,
    input_image_url, input_params, error
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12
) ON CONFLICT (task_id, image_index) DO UPDATE SET
    status = EXCLUDED.status,
    image_url = COALESCE(EXCLUDED.image_url, generations.image_url),
    model_type = COALESCE(EXCLUDED.model_type, generations.model_type),
    gen_mode = COALESCE(EXCLUDED.gen_mode, generations.gen_mode),
    prompt = COALESCE(EXCLUDED.prompt, generations.prompt),
    task_type = COALESCE(EXCLUDED.task_type, generations.task_type),
    input_image_url = COALESCE(EXCLUDED.input_image_url, generations.input_image_url),
    input_params = COALESCE(EXCLUDED.input_params, generations.input_params),
    error = EXCLUDED.error
WHERE generations.user_id = EXCLUDED.user_id
RETURNING id::text;
`

// upsert runs upsertGeneration. A conflicting row of another user is left
// untouched and no row comes back.
func (s *PostgresStore) upsert(ctx context.Context, rec model.GenerationRecord) (string, error) {
	args, err := upsertArgs(buildRow(rec))
	if err != nil {
		return "", err
	}
	var id string
	err = s.pool.QueryRow(ctx, upsertGeneration, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRecordOwnership
	}
	return id, err
}

func (s *PostgresStore) AppendImage(ctx context.Context, rec model.GenerationRecord) (string, error) {
	id, err := s.upsert(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to upsert generation record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, taskID, userID string, index int, reason string) error {
	_, err := s.upsert(ctx, model.GenerationRecord{
		TaskID:     taskID,
		UserID:     userID,
		ImageIndex: index,
		Status:     model.StatusFailed,
		Error:      reason,
	})
	if err != nil {
		return fmt.Errorf("failed to mark generation failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTask(ctx context.Context, taskID, userID string) ([]model.GenerationRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, task_id, image_index, user_id, status,
       COALESCE(image_url, ''), COALESCE(model_type, ''), COALESCE(gen_mode, ''), COALESCE(prompt, ''),
       COALESCE(task_type, ''), COALESCE(input_image_url, ''), input_params, COALESCE(error, ''), created_at
FROM generations
WHERE task_id = $1 AND user_id = $2
ORDER BY image_index;
`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var records []model.GenerationRecord
	for rows.Next() {
		var (
			rec    model.GenerationRecord
			params []byte
		)
		rec.CreatedAt = new(time.Time)
		if err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.ImageIndex,
			&rec.UserID,
			&rec.Status,
			&rec.ImageURL,
			&rec.ModelType,
			&rec.GenMode,
			&rec.Prompt,
			&rec.TaskType,
			&rec.InputImageURL,
			&params,
			&rec.Error,
			rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rec.InputParams); err != nil {
				log.Warn().Err(err).Str("taskId", taskID).Msg("⚠️  [DB] Invalid input_params JSON")
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
