package history

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/database"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

// Handler - GET /api/tasks/{taskId}/records
// 클라이언트 task store 가 화면 복원용으로 호출 (진행 중 작업 재개용 아님)
type Handler struct {
	records database.RecordReader
}

func NewHandler(records database.RecordReader) *Handler {
	return &Handler{records: records}
}

// Response - 기록 목록 응답
type Response struct {
	Success bool                     `json:"success"`
	TaskID  string                   `json:"taskId"`
	Records []model.GenerationRecord `json:"records"`
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		return
	}
	taskID := mux.Vars(r)["taskId"]
	if taskID == "" {
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		return
	}

	records, err := h.records.ListTask(r.Context(), taskID, userID)
	if err != nil {
		log.Error().Err(err).Str("taskId", taskID).Msg("❌ [History] Failed to list records")
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}
	if records == nil {
		records = []model.GenerationRecord{}
	}
	utils.WriteJSON(w, http.StatusOK, Response{Success: true, TaskID: taskID, Records: records})
}
