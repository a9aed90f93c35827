package credit

import (
	"context"
	"errors"
	"testing"
)

func TestSettle(t *testing.T) {
	tests := []struct {
		reserved, succeeded int
		outcome             Outcome
		refund              int
	}{
		{4, 4, OutcomeConfirm, 0},
		{4, 0, OutcomeRefund, 4},
		{4, 3, OutcomePartialRefund, 1},
		{4, 2, OutcomePartialRefund, 2},
		{1, 1, OutcomeConfirm, 0},
	}
	for _, tt := range tests {
		outcome, refund := Settle(tt.reserved, tt.succeeded)
		if outcome != tt.outcome || refund != tt.refund {
			t.Errorf("Settle(%d, %d) = %s, %d; want %s, %d", tt.reserved, tt.succeeded, outcome, refund, tt.outcome, tt.refund)
		}
	}
}

func TestMemoryLedgerReserveAndFinish(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(2, map[string]int{"u1": 10})

	r, err := l.Reserve(ctx, "u1", "t1", 4)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := l.Balance("u1"); got != 2 {
		t.Fatalf("balance after reserve = %d, want 2", got)
	}

	outcome, err := Finish(ctx, l, r, 3)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if outcome != OutcomePartialRefund {
		t.Fatalf("outcome = %s", outcome)
	}
	if got := l.Balance("u1"); got != 4 {
		t.Fatalf("balance after partial refund = %d, want 4", got)
	}

	if _, err := l.Reserve(ctx, "u1", "t2", 3); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
}

func TestFinishFullRefund(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(1, map[string]int{"u1": 4})
	r, _ := l.Reserve(ctx, "u1", "t1", 4)
	if outcome, _ := Finish(ctx, l, r, 0); outcome != OutcomeRefund {
		t.Fatalf("outcome = %s", outcome)
	}
	if l.Balance("u1") != 4 {
		t.Fatalf("balance = %d", l.Balance("u1"))
	}
}
