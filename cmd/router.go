package cmd

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/auth"
	"brand-camera-server/modules/common/events"
	"brand-camera-server/modules/common/hub"
	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
	"brand-camera-server/modules/history"
	"brand-camera-server/modules/lifestyle"
	"brand-camera-server/modules/prostudio"
	"brand-camera-server/modules/quota"
	"brand-camera-server/modules/single"
)

// routes - 라우터가 필요로 하는 핸들러 묶음
type routes struct {
	verifier  auth.Verifier
	hub       *hub.Hub
	replay    *events.RedisSink
	lifestyle *lifestyle.Handler
	proStudio *prostudio.Handler
	single    *single.Handler
	history   *history.Handler
	quota     *quota.Handler
}

func newRouter(rt routes) *mux.Router {
	r := mux.NewRouter()

	r.Use(recoverPanic)
	r.Use(enableCORS)

	// preflight 는 인증 없이 모든 경로에서 enableCORS 가 응답
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.HandleFunc("/", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/metrics", rt.hub.HandleMetrics).Methods(http.MethodGet)

	requireAuth := auth.RequireAuth(rt.verifier)

	r.Handle("/ws", requireAuth(http.HandlerFunc(rt.hub.HandleWebSocket)))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireAuth)
	api.HandleFunc("/generate-lifestyle", rt.lifestyle.GenerateLifestyle).Methods(http.MethodPost)
	api.HandleFunc("/generate-pro-studio", rt.proStudio.GenerateProStudio).Methods(http.MethodPost)
	api.HandleFunc("/generate-single", rt.single.GenerateSingle).Methods(http.MethodPost)
	api.HandleFunc("/quota/reserve", rt.quota.Reserve).Methods(http.MethodPost)
	api.HandleFunc("/quota/settle", rt.quota.Settle).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskId}/records", rt.history.ListRecords).Methods(http.MethodGet)
	api.Handle("/tasks/{taskId}/events", events.NewReplayHandler(rt.replay)).Methods(http.MethodGet)

	return r
}

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "X-Task-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoverPanic - 핸들러 panic 을 500 으로 변환
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("💥 [Server] Handler panicked")
				utils.WriteError(w, http.StatusInternalServerError, model.ErrCodeInternalError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "brand-camera",
	})
}
