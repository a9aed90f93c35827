package events

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

// ReplayHandler - GET /api/tasks/{taskId}/events
// 저장된 이벤트를 다시 보내고 complete 까지 이어서 스트리밍
type ReplayHandler struct {
	store *RedisSink
}

func NewReplayHandler(store *RedisSink) *ReplayHandler {
	return &ReplayHandler{store: store}
}

func (h *ReplayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "EVENT_REPLAY_DISABLED")
		return
	}

	taskID := mux.Vars(r)["taskId"]
	userID := auth.UserID(r.Context())

	owner, err := h.store.Owner(r.Context(), taskID)
	if err != nil || owner != userID {
		if err != nil && !errors.Is(err, ErrTaskNotFound) {
			log.Error().Err(err).Str("taskId", taskID).Msg("❌ [Events] Owner lookup failed")
		}
		utils.WriteError(w, http.StatusNotFound, "TASK_NOT_FOUND")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}

	log.Info().Str("taskId", taskID).Msg("🔁 [Events] Replaying task stream")
	if err := h.store.Replay(r.Context(), taskID, sse.Send); err != nil && !errors.Is(err, ErrClientGone) {
		log.Debug().Err(err).Str("taskId", taskID).Msg("[Events] Replay ended")
	}
}
