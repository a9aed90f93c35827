package single

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/slot"
	"brand-camera-server/modules/common/utils"
)

const maxRequestBytes = 40 << 20

// Handler - POST /api/generate-single
type Handler struct {
	service *Service
	gate    slot.Gate
	bus     *events.Bus
	timeout time.Duration
}

// NewHandler - gate 가 nil 이면 예약 확인 없이 생성
func NewHandler(service *Service, gate slot.Gate, bus *events.Bus, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Handler{service: service, gate: gate, bus: bus, timeout: timeout}
}

func (h *Handler) GenerateSingle(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		return
	}

	req := newRequest()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("⚠️  [Single] Invalid request body")
		slot.Respond(w, 0, nil, slot.InvalidRequest(err.Error()))
		return
	}

	if h.gate != nil {
		if err := h.gate.Admit(r.Context(), userID, req.TaskID, req.Index); err != nil {
			log.Warn().Err(err).Str("taskId", req.TaskID).Int("index", req.Index).Msg("⚠️  [Single] Slot without reservation rejected")
			slot.Respond(w, req.Index, nil, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	var pub *events.Publisher
	if req.TaskID != "" {
		pub = h.bus.For(req.TaskID, userID)
	}
	pub.Publish(ctx, events.Progress(req.Index))

	res, err := h.service.Generate(ctx, userID, req)
	slot.Announce(ctx, pub, req.Index, res, err)
	slot.Respond(w, req.Index, res, err)
}
