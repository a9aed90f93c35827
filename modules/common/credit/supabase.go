package credit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"brand-camera-server/modules/common/config"
)

const (
	membersTable      = "profiles"
	transactionsTable = "credit_transactions"
)

// Client - Supabase 기반 Ledger
type Client struct {
	supabase *supabase.Client
	perImage int
}

// NewClient - Credit 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient, perImage: cfg.ImagePerPrice}, nil
}

func (c *Client) balance(userID string) (int, error) {
	var members []struct {
		Credits int `json:"credits"`
	}
	data, _, err := c.supabase.From(membersTable).
		Select("credits", "", false).
		Eq("id", userID).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch user credits: %w", err)
	}
	if err := json.Unmarshal(data, &members); err != nil {
		return 0, fmt.Errorf("failed to parse member data: %w", err)
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("user not found: %s", userID)
	}
	return members[0].Credits, nil
}

func (c *Client) setBalance(userID string, credits int) error {
	_, _, err := c.supabase.From(membersTable).
		Update(map[string]interface{}{"credits": credits}, "", "").
		Eq("id", userID).
		Execute()
	return err
}

func (c *Client) record(r *Reservation, kind string, amount int, balanceAfter interface{}) {
	tx := map[string]interface{}{
		"user_id":          r.UserID,
		"task_id":          r.TaskID,
		"transaction_type": kind,
		"amount":           amount,
		"balance_after":    balanceAfter,
	}
	if _, _, err := c.supabase.From(transactionsTable).Insert(tx, false, "", "", "").Execute(); err != nil {
		log.Warn().Err(err).Str("taskId", r.TaskID).Msgf("⚠️  [Credit] Failed to record %s transaction", kind)
	}
}

// Reserve - 크레딧 선차감
func (c *Client) Reserve(ctx context.Context, userID, taskID string, count int) (*Reservation, error) {
	r := &Reservation{UserID: userID, TaskID: taskID, Count: count, PerImage: c.perImage}

	current, err := c.balance(userID)
	if err != nil {
		return nil, err
	}
	if current < r.Total() {
		log.Warn().Str("userId", userID).Msgf("💸 [Credit] Insufficient credits: have %d, need %d", current, r.Total())
		return nil, ErrInsufficientCredits
	}

	newBalance := current - r.Total()
	if err := c.setBalance(userID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}
	c.record(r, "RESERVE", -r.Total(), newBalance)

	log.Info().Str("taskId", taskID).Msgf("💰 [Credit] Reserved %d credits: %d → %d", r.Total(), current, newBalance)
	return r, nil
}

// Confirm - 성공한 장수만큼 확정 (잔액 변화 없음)
func (c *Client) Confirm(ctx context.Context, r *Reservation, succeeded int) error {
	c.record(r, "CONFIRM", -succeeded*r.PerImage, nil)
	log.Info().Str("taskId", r.TaskID).Msgf("✅ [Credit] Confirmed %d images", succeeded)
	return nil
}

// Refund - 전액 환불
func (c *Client) Refund(ctx context.Context, r *Reservation) error {
	return c.refund(r, r.Count, "REFUND")
}

// PartialRefund - 실패한 장수만큼 환불
func (c *Client) PartialRefund(ctx context.Context, r *Reservation, failed int) error {
	return c.refund(r, failed, "PARTIAL_REFUND")
}

func (c *Client) refund(r *Reservation, images int, kind string) error {
	if images <= 0 {
		return nil
	}
	amount := images * r.PerImage
	current, err := c.balance(r.UserID)
	if err != nil {
		return err
	}
	if err := c.setBalance(r.UserID, current+amount); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	c.record(r, kind, amount, current+amount)
	log.Info().Str("taskId", r.TaskID).Msgf("↩️  [Credit] %s %d credits: %d → %d", kind, amount, current, current+amount)
	return nil
}
