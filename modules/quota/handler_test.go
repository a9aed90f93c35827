package quota

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/fakes"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/slot"
)

func call(t *testing.T, fn http.HandlerFunc, body string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	fn(rec, req)
	var resp Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func complete(records *fakes.Records, userID, taskID string, indexes ...int) {
	for _, i := range indexes {
		records.AppendImage(context.Background(), model.GenerationRecord{TaskID: taskID, UserID: userID, ImageIndex: i, Status: model.StatusCompleted, ImageURL: "https://cdn.test/x.webp"})
	}
}

func TestReserveThenPartialSettle(t *testing.T) {
	ledger := credit.NewMemoryLedger(2, map[string]int{"u1": 20})
	records := fakes.NewRecords()
	h := NewHandler(ledger, nil, records)

	code, resp := call(t, h.Reserve, `{"taskId":"t1","count":4}`)
	if code != http.StatusOK || resp.Reservation == nil || resp.Reservation.Total() != 8 {
		t.Fatalf("reserve: %d %+v", code, resp)
	}
	if ledger.Balance("u1") != 12 {
		t.Fatalf("balance = %d", ledger.Balance("u1"))
	}

	complete(records, "u1", "t1", 0, 1, 3)
	records.MarkFailed(context.Background(), "t1", "u1", 2, model.ErrCodeResourceBusy)

	code, resp = call(t, h.Settle, `{"taskId":"t1"}`)
	if code != http.StatusOK || resp.Outcome != credit.OutcomePartialRefund || resp.Succeeded != 3 || resp.Refunded != 1 {
		t.Fatalf("settle: %d %+v", code, resp)
	}
	if ledger.Balance("u1") != 14 {
		t.Fatalf("balance = %d, want 14", ledger.Balance("u1"))
	}

	// settled once only
	if code, _ := call(t, h.Settle, `{"taskId":"t1"}`); code != http.StatusNotFound {
		t.Fatalf("second settle status = %d", code)
	}
}

func TestSettleIgnoresClaimedCount(t *testing.T) {
	ledger := credit.NewMemoryLedger(1, map[string]int{"u1": 5})
	records := fakes.NewRecords()
	h := NewHandler(ledger, NewMemoryStore(), records)
	call(t, h.Reserve, `{"taskId":"t2","count":2}`)

	complete(records, "u1", "t2", 0, 1)
	// 다른 사용자의 task 와 예약 범위 밖의 행은 세지 않음
	complete(records, "u2", "t3", 0)
	complete(records, "u1", "t2", 5)

	code, resp := call(t, h.Settle, `{"taskId":"t2","succeeded":0}`)
	if code != http.StatusOK || resp.Outcome != credit.OutcomeConfirm || resp.Succeeded != 2 {
		t.Fatalf("settle: %d %+v", code, resp)
	}
	if ledger.Balance("u1") != 3 {
		t.Fatalf("balance = %d, want 3", ledger.Balance("u1"))
	}
}

func TestSettleWithoutRecordsRefunds(t *testing.T) {
	ledger := credit.NewMemoryLedger(1, map[string]int{"u1": 5})
	h := NewHandler(ledger, NewMemoryStore(), fakes.NewRecords())
	call(t, h.Reserve, `{"taskId":"t2","count":2}`)

	code, resp := call(t, h.Settle, `{"taskId":"t2","succeeded":2}`)
	if code != http.StatusOK || resp.Outcome != credit.OutcomeRefund || ledger.Balance("u1") != 5 {
		t.Fatalf("settle: %d %+v balance=%d", code, resp, ledger.Balance("u1"))
	}
}

type failingReader struct{}

func (failingReader) ListTask(context.Context, string, string) ([]model.GenerationRecord, error) {
	return nil, errors.New("db down")
}

func TestSettleKeepsReservationWhenRecordsUnavailable(t *testing.T) {
	ledger := credit.NewMemoryLedger(1, map[string]int{"u1": 5})
	store := NewMemoryStore()
	h := NewHandler(ledger, store, failingReader{})
	call(t, h.Reserve, `{"taskId":"t4","count":2}`)

	if code, _ := call(t, h.Settle, `{"taskId":"t4"}`); code != http.StatusInternalServerError {
		t.Fatalf("status = %d", code)
	}
	if _, err := store.Peek(context.Background(), "u1", "t4"); err != nil {
		t.Fatalf("reservation lost: %v", err)
	}
	if ledger.Balance("u1") != 3 {
		t.Fatalf("balance = %d", ledger.Balance("u1"))
	}
}

func TestReserveRejections(t *testing.T) {
	h := NewHandler(credit.NewMemoryLedger(1, map[string]int{"u1": 1}), nil, fakes.NewRecords())
	if code, _ := call(t, h.Reserve, `{"taskId":"t","count":2}`); code != http.StatusPaymentRequired {
		t.Fatalf("insufficient: %d", code)
	}
	for _, body := range []string{`{"count":1}`, `{"taskId":"t","count":0}`, `{"taskId":"t","count":99}`, `x`} {
		if code, _ := call(t, h.Reserve, body); code != http.StatusBadRequest {
			t.Fatalf("%s: %d", body, code)
		}
	}
}

func TestGateAdmitsReservedSlotsOnly(t *testing.T) {
	store := NewMemoryStore()
	store.Save(context.Background(), &credit.Reservation{UserID: "u1", TaskID: "t1", Count: 2, PerImage: 1})
	gate := NewGate(store)
	ctx := context.Background()

	if err := gate.Admit(ctx, "u1", "t1", 1); err != nil {
		t.Fatalf("reserved slot: %v", err)
	}
	tests := []struct {
		user, task string
		index      int
		status     int
	}{
		{"u1", "", 0, http.StatusPaymentRequired},
		{"u2", "t1", 0, http.StatusPaymentRequired},
		{"u1", "t1", 2, http.StatusBadRequest},
		{"u1", "t1", -1, http.StatusBadRequest},
	}
	for _, tt := range tests {
		err := gate.Admit(ctx, tt.user, tt.task, tt.index)
		if err == nil || slot.AsFailure(err).Status != tt.status {
			t.Errorf("Admit(%s, %q, %d) = %v", tt.user, tt.task, tt.index, err)
		}
	}
}
