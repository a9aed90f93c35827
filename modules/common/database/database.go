package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/model"
)

const generationsTable = "generations"

// ErrRecordOwnership - 다른 사용자의 (task_id, image_index) 행에 쓰려고 함
var ErrRecordOwnership = errors.New("generation record belongs to another user")

// RecordWriter appends per-slot results. Writes are upserts on (task_id, image_index)
// and only ever update a row of the same user.
type RecordWriter interface {
	AppendImage(ctx context.Context, rec model.GenerationRecord) (string, error)
	MarkFailed(ctx context.Context, taskID, userID string, index int, reason string) error
}

// RecordReader lists the durable records of one task.
type RecordReader interface {
	ListTask(ctx context.Context, taskID, userID string) ([]model.GenerationRecord, error)
}

// Store is both.
type Store interface {
	RecordWriter
	RecordReader
}

// New - DATABASE_URL 이 있으면 pgx, 없으면 Supabase PostgREST 사용
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	return NewClient(cfg)
}

// buildRow - insert/upsert 용 row 생성
// input_image_url / input_params 는 index 0 에서만 기록
func buildRow(rec model.GenerationRecord) map[string]interface{} {
	row := map[string]interface{}{
		"task_id":     rec.TaskID,
		"image_index": rec.ImageIndex,
		"user_id":     rec.UserID,
		"status":      rec.Status,
	}
	if rec.Status == "" {
		row["status"] = model.StatusCompleted
	}
	if rec.ImageURL != "" {
		row["image_url"] = rec.ImageURL
	}
	if rec.ModelType != "" {
		row["model_type"] = rec.ModelType
	}
	if rec.GenMode != "" {
		row["gen_mode"] = rec.GenMode
	}
	if rec.Prompt != "" {
		row["prompt"] = rec.Prompt
	}
	if rec.TaskType != "" {
		row["task_type"] = rec.TaskType
	}
	if rec.Error != "" {
		row["error"] = rec.Error
	}
	if rec.ImageIndex == 0 {
		if rec.InputImageURL != "" {
			row["input_image_url"] = rec.InputImageURL
		}
		if len(rec.InputParams) > 0 {
			row["input_params"] = rec.InputParams
		}
	}
	return row
}

// Client - Supabase PostgREST 기반 record store
type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// AppendImage - 생성 결과 한 장 기록 (task_id + image_index 기준 upsert)
func (c *Client) AppendImage(ctx context.Context, rec model.GenerationRecord) (string, error) {
	if err := c.ensureOwner(rec.TaskID, rec.ImageIndex, rec.UserID); err != nil {
		return "", err
	}
	row := buildRow(rec)

	data, _, err := c.supabase.From(generationsTable).
		Insert(row, true, "task_id,image_index", "representation", "").
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to upsert generation record: %w", err)
	}

	var inserted []struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &inserted); err != nil {
		return "", fmt.Errorf("failed to parse insert response: %w", err)
	}
	if len(inserted) == 0 {
		return "", fmt.Errorf("no row returned for task %s index %d", rec.TaskID, rec.ImageIndex)
	}

	id := rawID(inserted[0].ID)
	log.Debug().Str("taskId", rec.TaskID).Int("index", rec.ImageIndex).Msgf("💾 [DB] Generation record saved: %s", id)
	return id, nil
}

// MarkFailed - 실패한 슬롯 기록
func (c *Client) MarkFailed(ctx context.Context, taskID, userID string, index int, reason string) error {
	if err := c.ensureOwner(taskID, index, userID); err != nil {
		return err
	}
	row := buildRow(model.GenerationRecord{
		TaskID:     taskID,
		UserID:     userID,
		ImageIndex: index,
		Status:     model.StatusFailed,
		Error:      reason,
	})

	_, _, err := c.supabase.From(generationsTable).
		Insert(row, true, "task_id,image_index", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to mark generation failed: %w", err)
	}
	log.Debug().Str("taskId", taskID).Int("index", index).Msg("📝 [DB] Slot marked failed")
	return nil
}

// ensureOwner - PostgREST upsert 는 조건부 UPDATE 가 없으므로 기존 행의 소유자를 먼저 확인
func (c *Client) ensureOwner(taskID string, index int, userID string) error {
	data, _, err := c.supabase.From(generationsTable).
		Select("user_id", "", false).
		Eq("task_id", taskID).
		Eq("image_index", strconv.Itoa(index)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to check record owner: %w", err)
	}
	return ownedBy(data, userID)
}

// ownedBy accepts an empty result or rows of userID only.
func ownedBy(data []byte, userID string) error {
	var rows []struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to parse owner lookup: %w", err)
	}
	for _, r := range rows {
		if r.UserID != userID {
			return ErrRecordOwnership
		}
	}
	return nil
}

// ListTask - task 의 모든 record 조회 (image_index 순)
func (c *Client) ListTask(ctx context.Context, taskID, userID string) ([]model.GenerationRecord, error) {
	data, _, err := c.supabase.From(generationsTable).
		Select("*", "exact", false).
		Eq("task_id", taskID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}

	var records []model.GenerationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse generations: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ImageIndex < records[j].ImageIndex })
	return records, nil
}

// rawID accepts numeric or string primary keys.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
