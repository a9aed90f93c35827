package quota

import (
	"context"
	"errors"
	"fmt"

	"brand-camera-server/modules/common/slot"
)

// Gate - 슬롯 라우트 앞단의 예약 확인
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Admit passes only a slot index inside an open reservation of the caller.
func (g *Gate) Admit(ctx context.Context, userID, taskID string, index int) error {
	if taskID == "" {
		return slot.NotReserved("taskId is required")
	}
	res, err := g.store.Peek(ctx, userID, taskID)
	if errors.Is(err, ErrNoReservation) {
		return slot.NotReserved("no open reservation for task " + taskID)
	}
	if err != nil {
		return slot.Internal(err)
	}
	if index < 0 || index >= res.Count {
		return slot.InvalidRequest(fmt.Sprintf("index %d outside the %d reserved slots", index, res.Count))
	}
	return nil
}
