package lifestyle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/credit"
	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/material"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
)

const maxRequestBytes = 40 << 20

// Handler - POST /api/generate-lifestyle (SSE)
type Handler struct {
	service  *Service
	resolver MaterialResolver
	ledger   credit.Ledger
	bus      *events.Bus
	timeout  time.Duration
}

func NewHandler(service *Service, resolver MaterialResolver, ledger credit.Ledger, bus *events.Bus, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Handler{
		service:  service,
		resolver: resolver,
		ledger:   ledger,
		bus:      bus,
		timeout:  timeout,
	}
}

// GenerateLifestyle validates the request, then streams the pipeline.
// Validation failures are plain JSON; everything after the first event is SSE.
func (h *Handler) GenerateLifestyle(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		utils.WriteError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("⚠️  [Lifestyle] Invalid request body")
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		return
	}

	ref := material.Parse(req.ProductImage)
	if ref.Kind() != material.KindInline && ref.Kind() != material.KindURL {
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		return
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = uuid.NewString()
	}

	// 클라이언트가 떠나도 생성은 계속됨 (요청 타임아웃까지)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	product, ok := h.resolver.Resolve(ctx, ref)
	if !ok {
		utils.WriteError(w, http.StatusBadRequest, model.ErrCodeMissingMaterial)
		return
	}

	var reservation *credit.Reservation
	if h.ledger != nil {
		res, err := h.ledger.Reserve(ctx, userID, taskID, h.service.NumImages())
		if err != nil {
			if errors.Is(err, credit.ErrInsufficientCredits) {
				utils.WriteError(w, http.StatusPaymentRequired, model.ErrCodeInsufficientCredits)
				return
			}
			log.Error().Err(err).Str("taskId", taskID).Msg("❌ [Lifestyle] Credit reservation failed")
			utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
			return
		}
		reservation = res
	}

	w.Header().Set("X-Task-Id", taskID)
	sse, err := events.NewSSEWriter(w)
	if err != nil {
		h.settle(ctx, reservation, 0)
		utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
		return
	}

	log.Info().Str("taskId", taskID).Str("userId", userID).Msg("🚀 [Lifestyle] Pipeline started")
	sum := h.service.Run(ctx, Job{
		TaskID:        taskID,
		UserID:        userID,
		Product:       product,
		ProductSource: req.ProductImage,
		ModelID:       strings.TrimSpace(req.ModelID),
		SceneID:       strings.TrimSpace(req.SceneID),
	}, h.bus.For(taskID, userID, sse))

	if sse.Gone() {
		log.Info().Str("taskId", taskID).Msg("👋 [Lifestyle] Client left before the stream ended; results were persisted")
	}
	h.settle(ctx, reservation, sum.Succeeded)
}

func (h *Handler) settle(ctx context.Context, r *credit.Reservation, succeeded int) {
	if h.ledger == nil || r == nil {
		return
	}
	outcome, err := credit.Finish(ctx, h.ledger, r, succeeded)
	if err != nil {
		log.Error().Err(err).Str("taskId", r.TaskID).Msg("❌ [Lifestyle] Credit settlement failed")
		return
	}
	log.Info().Str("taskId", r.TaskID).Msgf("💳 [Lifestyle] Credits settled: %s (%d/%d)", outcome, succeeded, r.Count)
}
