package quota

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/database"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

// 한 task 의 최대 슬롯 수
const maxSlots = 12

// Handler - POST /api/quota/reserve, POST /api/quota/settle
// 슬롯 단위 라우트(pro-studio, single)는 클라이언트가 예약 → 슬롯 호출 → 정산 순서로 사용.
// 정산 금액은 서버에 기록된 완료 슬롯 수로 결정.
type Handler struct {
	ledger  credit.Ledger
	store   Store
	records database.RecordReader
}

func NewHandler(ledger credit.Ledger, store Store, records database.RecordReader) *Handler {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Handler{ledger: ledger, store: store, records: records}
}

// ReserveRequest - 예약 요청
type ReserveRequest struct {
	TaskID string `json:"taskId"`
	Count  int    `json:"count"`
}

// SettleRequest - 정산 요청
type SettleRequest struct {
	TaskID string `json:"taskId"`
}

// Response - 예약/정산 응답
type Response struct {
	Success     bool                `json:"success"`
	Reservation *credit.Reservation `json:"reservation,omitempty"`
	Outcome     credit.Outcome      `json:"outcome,omitempty"`
	Succeeded   int                 `json:"succeeded,omitempty"`
	Refunded    int                 `json:"refunded,omitempty"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		return
	}
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" || req.Count <= 0 || req.Count > maxSlots {
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		return
	}

	res, err := h.ledger.Reserve(r.Context(), userID, req.TaskID, req.Count)
	if errors.Is(err, credit.ErrInsufficientCredits) {
		utils.WriteError(w, http.StatusPaymentRequired, model.ErrCodeInsufficientCredits)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("❌ [Quota] Reserve failed")
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}
	if err := h.store.Save(r.Context(), res); err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("❌ [Quota] Failed to remember reservation, refunding")
		if rerr := h.ledger.Refund(r.Context(), res); rerr != nil {
			log.Error().Err(rerr).Str("taskId", req.TaskID).Msg("❌ [Quota] Refund after failed save also failed")
		}
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}

	log.Info().Str("taskId", req.TaskID).Str("userId", userID).Msgf("💳 [Quota] Reserved %d images", req.Count)
	utils.WriteJSON(w, http.StatusOK, Response{Success: true, Reservation: res})
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		return
	}
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		return
	}

	res, err := h.store.Take(r.Context(), userID, req.TaskID)
	if errors.Is(err, ErrNoReservation) {
		utils.WriteError(w, http.StatusNotFound, model.ErrCodeReservationNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("❌ [Quota] Reservation lookup failed")
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}

	succeeded, err := h.completed(r.Context(), res)
	if err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("❌ [Quota] Could not count completed slots, keeping reservation")
		if serr := h.store.Save(r.Context(), res); serr != nil {
			log.Error().Err(serr).Str("taskId", req.TaskID).Msg("❌ [Quota] Failed to restore reservation")
		}
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}
	outcome, err := credit.Finish(r.Context(), h.ledger, res, succeeded)
	if err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("❌ [Quota] Settle failed")
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}
	_, refunded := credit.Settle(res.Count, succeeded)

	log.Info().Str("taskId", req.TaskID).Msgf("💳 [Quota] Settled %s (%d/%d)", outcome, succeeded, res.Count)
	utils.WriteJSON(w, http.StatusOK, Response{Success: true, Outcome: outcome, Succeeded: succeeded, Refunded: refunded})
}

// completed counts distinct reserved slots that have a completed record.
func (h *Handler) completed(ctx context.Context, res *credit.Reservation) (int, error) {
	rows, err := h.records.ListTask(ctx, res.TaskID, res.UserID)
	if err != nil {
		return 0, err
	}
	done := map[int]bool{}
	for _, row := range rows {
		if row.Status == model.StatusCompleted && row.ImageIndex >= 0 && row.ImageIndex < res.Count {
			done[row.ImageIndex] = true
		}
	}
	return len(done), nil
}
