package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientCredits is returned by Reserve when the balance is too low.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Reservation - task 하나에 대해 선차감한 크레딧
type Reservation struct {
	UserID   string `json:"userId"`
	TaskID   string `json:"taskId"`
	Count    int    `json:"count"`
	PerImage int    `json:"perImage"`
}

// Total returns the number of credits held.
func (r *Reservation) Total() int {
	return r.Count * r.PerImage
}

// Ledger is the reserve → confirm / refund bookkeeping.
type Ledger interface {
	Reserve(ctx context.Context, userID, taskID string, count int) (*Reservation, error)
	Confirm(ctx context.Context, r *Reservation, succeeded int) error
	Refund(ctx context.Context, r *Reservation) error
	PartialRefund(ctx context.Context, r *Reservation, failed int) error
}

// Outcome - 배치 종료 후 정산 방식
type Outcome string

const (
	OutcomeConfirm       Outcome = "confirm"
	OutcomeRefund        Outcome = "refund"
	OutcomePartialRefund Outcome = "partial_refund"
)

// Settle maps a finished batch to its bookkeeping action and the number of
// images to refund.
func Settle(reserved, succeeded int) (Outcome, int) {
	switch {
	case succeeded <= 0:
		return OutcomeRefund, reserved
	case succeeded >= reserved:
		return OutcomeConfirm, 0
	default:
		return OutcomePartialRefund, reserved - succeeded
	}
}

// Finish applies Settle to a reservation.
func Finish(ctx context.Context, l Ledger, r *Reservation, succeeded int) (Outcome, error) {
	outcome, refund := Settle(r.Count, succeeded)
	var err error
	switch outcome {
	case OutcomeConfirm:
		err = l.Confirm(ctx, r, succeeded)
	case OutcomeRefund:
		err = l.Refund(ctx, r)
	case OutcomePartialRefund:
		if err = l.PartialRefund(ctx, r, refund); err == nil {
			err = l.Confirm(ctx, r, succeeded)
		}
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to settle credits (%s): %w", outcome, err)
	}
	return outcome, nil
}

// MemoryLedger keeps balances in process. Used by the CLI dry-run and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	perImage int
	balances map[string]int
	Log      []string
}

func NewMemoryLedger(perImage int, balances map[string]int) *MemoryLedger {
	if balances == nil {
		balances = map[string]int{}
	}
	return &MemoryLedger{perImage: perImage, balances: balances}
}

func (m *MemoryLedger) Balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *MemoryLedger) Reserve(_ context.Context, userID, taskID string, count int) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Reservation{UserID: userID, TaskID: taskID, Count: count, PerImage: m.perImage}
	if m.balances[userID] < r.Total() {
		return nil, ErrInsufficientCredits
	}
	m.balances[userID] -= r.Total()
	m.Log = append(m.Log, fmt.Sprintf("reserve %s %d", taskID, count))
	return r, nil
}

func (m *MemoryLedger) Confirm(_ context.Context, r *Reservation, succeeded int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Log = append(m.Log, fmt.Sprintf("confirm %s %d", r.TaskID, succeeded))
	return nil
}

func (m *MemoryLedger) Refund(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[r.UserID] += r.Total()
	m.Log = append(m.Log, fmt.Sprintf("refund %s %d", r.TaskID, r.Count))
	return nil
}

func (m *MemoryLedger) PartialRefund(_ context.Context, r *Reservation, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[r.UserID] += failed * r.PerImage
	m.Log = append(m.Log, fmt.Sprintf("partial_refund %s %d", r.TaskID, failed))
	return nil
}
